package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"cyclecount/internal/tabular"
)

const (
	ResultSheet = "Resultado"
	DetailSheet = "Detalle"

	resultTitle = "4. Resultado Inventario Rotativo"
	resultIntro = "El resultado del inventario rotativo es el siguiente:"

	headerRow = 5
)

var thinBorder = []excelize.Border{
	{Type: "left", Color: "000000", Style: 1},
	{Type: "right", Color: "000000", Style: 1},
	{Type: "top", Color: "000000", Style: 1},
	{Type: "bottom", Color: "000000", Style: 1},
}

type styleDef struct {
	dst   *int
	style *excelize.Style
}

type styles struct {
	title, header, label, count, money, pct, countHi, moneyHi, pctHi, grade, bold, center int
}

// Export writes the result sheet and the full detail dump to path.
func Export(s Summary, detail tabular.Table, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ResultSheet); err != nil {
		return err
	}
	st, err := newStyles(f)
	if err != nil {
		return err
	}
	if err := writeResult(f, s, st); err != nil {
		return fmt.Errorf("result sheet: %w", err)
	}
	if err := writeDetail(f, detail); err != nil {
		return fmt.Errorf("detail sheet: %w", err)
	}
	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

func newStyles(f *excelize.File) (styles, error) {
	moneyFmt := "#,##0.00"
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	lightRed := excelize.Fill{Type: "pattern", Color: []string{"FFF2F2"}, Pattern: 1}

	var st styles
	defs := []styleDef{
		{&st.title, &excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}, Alignment: center}},
		{&st.header, &excelize.Style{Font: &excelize.Font{Bold: true}, Alignment: center, Border: thinBorder}},
		{&st.label, &excelize.Style{Border: thinBorder}},
		{&st.count, &excelize.Style{Alignment: center, Border: thinBorder}},
		{&st.money, &excelize.Style{CustomNumFmt: &moneyFmt, Border: thinBorder}},
		{&st.pct, &excelize.Style{NumFmt: 10, Border: thinBorder}},
		{&st.countHi, &excelize.Style{Alignment: center, Border: thinBorder, Fill: lightRed}},
		{&st.moneyHi, &excelize.Style{CustomNumFmt: &moneyFmt, Border: thinBorder, Fill: lightRed}},
		{&st.pctHi, &excelize.Style{NumFmt: 10, Border: thinBorder, Fill: lightRed}},
		{&st.grade, &excelize.Style{Font: &excelize.Font{Bold: true, Size: 12}, Alignment: center}},
		{&st.bold, &excelize.Style{Font: &excelize.Font{Bold: true}}},
		{&st.center, &excelize.Style{Alignment: center}},
	}
	for _, d := range defs {
		id, err := f.NewStyle(d.style)
		if err != nil {
			return styles{}, err
		}
		*d.dst = id
	}
	return st, nil
}

func writeResult(f *excelize.File, s Summary, st styles) error {
	sh := ResultSheet
	if err := f.MergeCell(sh, "A1", "D1"); err != nil {
		return err
	}
	if err := setStyled(f, sh, "A1", resultTitle, st.title); err != nil {
		return err
	}
	if err := f.SetCellValue(sh, "A3", resultIntro); err != nil {
		return err
	}

	for i, h := range []string{"Detalle", "Cant. de Art.", "$", "%"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		if err := setStyled(f, sh, cell, h, st.header); err != nil {
			return err
		}
	}

	rows := []struct {
		label     string
		fig       Figure
		highlight bool
	}{
		{"Muestra", s.Sample, false},
		{"Faltantes", s.Shortage, false},
		{"Sobrantes", s.Surplus, false},
		{"Diferencia Neta", s.Net, true},
		{"Diferencia Absoluta", s.Absolute, true},
	}
	for i, r := range rows {
		row := headerRow + 1 + i
		countStyle, moneyStyle, pctStyle := st.count, st.money, st.pct
		if r.highlight {
			countStyle, moneyStyle, pctStyle = st.countHi, st.moneyHi, st.pctHi
		}
		cells := []struct {
			col   string
			value any
			style int
		}{
			{"A", r.label, st.label},
			{"B", r.fig.Count.InexactFloat64(), countStyle},
			{"C", r.fig.Value.Round(2).InexactFloat64(), moneyStyle},
			{"D", r.fig.Share.InexactFloat64(), pctStyle},
		}
		for _, c := range cells {
			if err := setStyled(f, sh, fmt.Sprintf("%s%d", c.col, row), c.value, c.style); err != nil {
				return err
			}
		}
	}
	// the sample is the whole base
	if err := f.SetCellValue(sh, fmt.Sprintf("D%d", headerRow+1), 1.0); err != nil {
		return err
	}

	gradeRow := headerRow + 1
	if err := f.MergeCell(sh, fmt.Sprintf("F%d", gradeRow), fmt.Sprintf("G%d", gradeRow)); err != nil {
		return err
	}
	if err := setStyled(f, sh, fmt.Sprintf("F%d", gradeRow), fmt.Sprintf("%d%%", s.Grade), st.grade); err != nil {
		return err
	}

	scaleRow := headerRow + 7
	if err := setStyled(f, sh, fmt.Sprintf("B%d", scaleRow), "Dif. Abs. desde", st.bold); err != nil {
		return err
	}
	if err := setStyled(f, sh, fmt.Sprintf("C%d", scaleRow), "Grado de cumplim.", st.bold); err != nil {
		return err
	}
	for i, step := range Scale {
		row := scaleRow + 1 + i
		if err := setStyled(f, sh, fmt.Sprintf("B%d", row), fmt.Sprintf("%.2f%%", step.Threshold), st.center); err != nil {
			return err
		}
		if err := setStyled(f, sh, fmt.Sprintf("C%d", row), fmt.Sprintf("%d%%", step.Grade), st.center); err != nil {
			return err
		}
	}

	widths := map[string]float64{"A": 24, "B": 19, "C": 21, "D": 10, "F": 8, "G": 8}
	for col, w := range widths {
		if err := f.SetColWidth(sh, col, col, w); err != nil {
			return err
		}
	}
	return nil
}

func writeDetail(f *excelize.File, detail tabular.Table) error {
	if _, err := f.NewSheet(DetailSheet); err != nil {
		return err
	}
	for i, row := range tabular.Sanitize(detail).Values() {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(DetailSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func setStyled(f *excelize.File, sheet, cell string, value any, style int) error {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return err
	}
	return f.SetCellStyle(sheet, cell, cell, style)
}
