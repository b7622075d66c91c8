package ingest

import (
	"fmt"
	"strings"

	"cyclecount/internal"
	"cyclecount/internal/tabular"
	"cyclecount/internal/util"
)

const (
	ColArticle       = "Artículo"
	ColLocation      = "Locación"
	ColDescription   = "Descripción"
	ColStock         = "Stock"
	ColCost          = "Cto.Rep."
	ColCount         = "Conteo_Fisico"
	ColJustification = "Justificacion"
	ColValidation    = "Validado"
	ColAdjustType    = "Tipo_Ajuste"
	ColAdjustQty     = "Cantidad_Ajuste"
)

type column struct {
	name    string
	aliases []string
}

var (
	articleCol       = column{ColArticle, []string{"Codigo", "Código", "Cod. Articulo"}}
	locationCol      = column{ColLocation, []string{"Ubicación", "Ubicacion"}}
	descriptionCol   = column{ColDescription, []string{"Detalle Articulo"}}
	stockCol         = column{ColStock, []string{"Existencia"}}
	costCol          = column{ColCost, []string{"Costo Reposicion", "Costo Reposición", "Costo"}}
	countCol         = column{ColCount, []string{"Conteo Físico", "Conteo"}}
	justificationCol = column{ColJustification, []string{"Justificación", "Motivo"}}
	validationCol    = column{ColValidation, []string{"Validacion", "Validación"}}
	adjustTypeCol    = column{ColAdjustType, []string{"Tipo Ajuste"}}
	adjustQtyCol     = column{ColAdjustQty, []string{"Cantidad Ajuste"}}
)

// resolve maps each wanted column to the title the file actually uses.
// Required columns that are absent come back in a MissingColumnsError.
func resolve(t tabular.Table, required []column, optional ...column) (map[string]string, error) {
	byKey := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		if _, ok := byKey[headerKey(c)]; !ok {
			byKey[headerKey(c)] = c
		}
	}
	lookup := func(col column) (string, bool) {
		for _, name := range append([]string{col.name}, col.aliases...) {
			if actual, ok := byKey[headerKey(name)]; ok {
				return actual, true
			}
		}
		return "", false
	}

	out := make(map[string]string, len(required)+len(optional))
	var missing []string
	for _, col := range required {
		actual, ok := lookup(col)
		if !ok {
			missing = append(missing, col.name)
			continue
		}
		out[col.name] = actual
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}
	for _, col := range optional {
		if actual, ok := lookup(col); ok {
			out[col.name] = actual
		}
	}
	return out, nil
}

// ParseStockReport turns a stock report into lines. Stock and cost that do
// not parse become 0, and so do negative ones. Rows without an article code
// (totals, notes) are skipped. An article/location pair on more than one row
// fails with DuplicateLinesError.
func ParseStockReport(t tabular.Table) ([]internal.StockLine, error) {
	cols, err := resolve(t, []column{articleCol, locationCol, descriptionCol, stockCol, costCol})
	if err != nil {
		return nil, err
	}

	out := make([]internal.StockLine, 0, t.Len())
	rows := map[internal.LineKey][]int{}
	var order []internal.LineKey
	for i, r := range t.Rows {
		article := util.CellText(r[cols[ColArticle]])
		if article == "" {
			continue
		}
		l := internal.StockLine{
			Article:     article,
			Description: util.CellText(r[cols[ColDescription]]),
			Location:    util.CellText(r[cols[ColLocation]]),
			Stock:       max(util.CellFloat(r[cols[ColStock]]), 0),
			Cost:        max(util.CellFloat(r[cols[ColCost]]), 0),
		}
		k := l.Key()
		if _, seen := rows[k]; !seen {
			order = append(order, k)
		}
		rows[k] = append(rows[k], sheetRow(r, i))
		out = append(out, l)
	}

	var dups []Duplicate
	for _, k := range order {
		if len(rows[k]) > 1 {
			dups = append(dups, Duplicate{Key: k, Rows: rows[k]})
		}
	}
	if len(dups) > 0 {
		return nil, &DuplicateLinesError{Duplicates: dups}
	}
	return out, nil
}

// sheetRow is the worksheet row a record came from. Tables not built by
// ReadTable are taken to have their header on row 1.
func sheetRow(r tabular.Row, i int) int {
	if n, ok := util.ToFloat(r[RowColumn]); ok && n > 0 {
		return int(n)
	}
	return i + 2
}

// ParseCounts reads a count sheet. Lines with an empty count cell were not
// counted yet and are left out.
func ParseCounts(t tabular.Table) ([]internal.CountEntry, error) {
	cols, err := resolve(t, []column{articleCol, locationCol, countCol})
	if err != nil {
		return nil, err
	}

	var out []internal.CountEntry
	for _, r := range t.Rows {
		article := util.CellText(r[cols[ColArticle]])
		count := util.CellText(r[cols[ColCount]])
		if article == "" || count == "" {
			continue
		}
		out = append(out, internal.CountEntry{
			Key:   internal.NewLineKey(article, util.CellText(r[cols[ColLocation]])),
			Count: count,
		})
	}
	return out, nil
}

func ParseJustifications(t tabular.Table) ([]internal.JustificationEntry, error) {
	cols, err := resolve(t, []column{articleCol, locationCol, justificationCol})
	if err != nil {
		return nil, err
	}

	var out []internal.JustificationEntry
	for _, r := range t.Rows {
		article := util.CellText(r[cols[ColArticle]])
		text := util.CellText(r[cols[ColJustification]])
		if article == "" || text == "" {
			continue
		}
		out = append(out, internal.JustificationEntry{
			Key:  internal.NewLineKey(article, util.CellText(r[cols[ColLocation]])),
			Text: text,
		})
	}
	return out, nil
}

// ParseValidations reads the validation sheet. A blank Validado cell is kept
// as an explicit unset so a previous mark can be cleared.
func ParseValidations(t tabular.Table) ([]internal.ValidationEntry, error) {
	cols, err := resolve(t, []column{articleCol, locationCol, validationCol}, adjustTypeCol, adjustQtyCol)
	if err != nil {
		return nil, err
	}

	var out []internal.ValidationEntry
	var problems []string
	for i, r := range t.Rows {
		article := util.CellText(r[cols[ColArticle]])
		if article == "" {
			continue
		}
		line := sheetRow(r, i)
		mark, ok := internal.ParseValidationMark(util.CellText(r[cols[ColValidation]]))
		if !ok {
			problems = append(problems, fmt.Sprintf("row %d: %s must be SI, NO or blank, got %q", line, ColValidation, util.CellText(r[cols[ColValidation]])))
			continue
		}
		entry := internal.ValidationEntry{
			Key:  internal.NewLineKey(article, util.CellText(r[cols[ColLocation]])),
			Mark: mark,
		}
		if name, ok := cols[ColAdjustType]; ok {
			kind, ok := internal.ParseAdjustmentType(util.CellText(r[name]))
			if !ok {
				problems = append(problems, fmt.Sprintf("row %d: %s must be Ajuste, Canje or blank, got %q", line, ColAdjustType, util.CellText(r[name])))
				continue
			}
			entry.AdjustmentType = kind
		}
		if name, ok := cols[ColAdjustQty]; ok {
			if raw := util.CellText(r[name]); raw != "" {
				qty, ok := util.ParseNumber(raw)
				if !ok {
					problems = append(problems, fmt.Sprintf("row %d: %s is not a number: %q", line, ColAdjustQty, raw))
					continue
				}
				entry.AdjustmentQuantity = util.FloatPtr(qty)
			}
		}
		out = append(out, entry)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid validation sheet: %s", strings.Join(problems, "; "))
	}
	return out, nil
}
