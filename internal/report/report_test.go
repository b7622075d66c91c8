package report

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"cyclecount/internal"
	"cyclecount/internal/tabular"
	"cyclecount/internal/util"
)

func counted(article string, stock, cost, count float64) internal.SampledLine {
	l := internal.SampledLine{
		ClassifiedLine: internal.ClassifiedLine{StockLine: internal.StockLine{Article: article, Location: "L", Stock: stock, Cost: cost}},
		SessionID:      "INV-20260210-0001",
	}
	l.PhysicalCount = util.FloatPtr(count)
	l.Variance = util.FloatPtr(count - stock)
	return l
}

func auditSample() []internal.SampledLine {
	return []internal.SampledLine{
		counted("PH1860KB1000", 4, 10000, 1),
		counted("851100K22200", 3, 15000, 1),
		counted("480690D12100", 1, 50000, 8),
		counted("V01-MIN-0001", 1, 30000, 2),
	}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertDec(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "%s: want %d got %s", msg, want, got)
}

func TestCompile(t *testing.T) {
	s := Compile("INV-20260210-0001", auditSample())

	assertDec(t, 9, s.Sample.Count, "sample count")
	assertDec(t, 165000, s.Sample.Value, "sample value")
	assertDec(t, 5, s.Shortage.Count, "shortage count")
	assertDec(t, 60000, s.Shortage.Value, "shortage value")
	assertDec(t, 8, s.Surplus.Count, "surplus count")
	assertDec(t, 380000, s.Surplus.Value, "surplus value")
	assertDec(t, 3, s.Net.Count, "net count")
	assertDec(t, 320000, s.Net.Value, "net value")
	assertDec(t, 13, s.Absolute.Count, "absolute count")
	assertDec(t, 440000, s.Absolute.Value, "absolute value")
	assert.InDelta(t, 266.6667, s.AbsolutePct.InexactFloat64(), 0.001)
	assert.Equal(t, 0, s.Grade)
	assert.Equal(t, 4, s.PendingValidation)
}

func TestCompileSingleShortage(t *testing.T) {
	s := Compile("INV-1", []internal.SampledLine{counted("PH1860KB1000", 4, 10000, 1)})

	assertDec(t, 30000, s.Shortage.Value, "shortage value")
	assertDec(t, -30000, s.Net.Value, "net value")
	assertDec(t, 30000, s.Absolute.Value, "absolute value")
}

func TestCompileUsesValidatedAdjustment(t *testing.T) {
	lines := auditSample()
	lines[0].Validation = internal.ValidationApproved
	lines[0].AdjustmentType = internal.AdjustmentAdjust
	lines[0].AdjustmentQuantity = util.FloatPtr(-2)

	s := Compile("INV-20260210-0001", lines)

	assertDec(t, 4, s.Shortage.Count, "shortage count")
	assertDec(t, 50000, s.Shortage.Value, "shortage value")

	lines[0].Validation = internal.ValidationRejected
	s = Compile("INV-20260210-0001", lines)
	assertDec(t, 60000, s.Shortage.Value, "rejected adjustment falls back to raw variance")
}

func TestCompileEmptySample(t *testing.T) {
	s := Compile("INV-1", nil)

	assert.True(t, s.AbsolutePct.IsZero())
	assert.Equal(t, 100, s.Grade)
}

func TestCompileIgnoresUncounted(t *testing.T) {
	lines := auditSample()
	lines = append(lines, internal.SampledLine{ClassifiedLine: internal.ClassifiedLine{StockLine: internal.StockLine{Article: "X", Stock: 2, Cost: 1000}}})

	s := Compile("INV-1", lines)

	assertDec(t, 11, s.Sample.Count, "uncounted lines still belong to the sample")
	assertDec(t, 440000, s.Absolute.Value, "but add no variance")
	assert.Equal(t, 1, s.Uncounted)
}

func TestGrade(t *testing.T) {
	cases := map[float64]int{
		0:      100,
		0.0999: 100,
		0.10:   94,
		0.15:   94,
		0.80:   82,
		1.60:   65,
		2.39:   65,
		2.40:   35,
		3.30:   0,
		5.0:    0,
	}
	for pct, want := range cases {
		assert.Equal(t, want, Grade(pct), "pct %v", pct)
	}

	prev := Grade(0)
	for pct := 0.0; pct <= 6; pct += 0.01 {
		g := Grade(pct)
		require.LessOrEqual(t, g, prev, "grade rose at %v", pct)
		prev = g
	}
}

func TestExport(t *testing.T) {
	lines := auditSample()
	detail := tabular.Table{Columns: []string{"ID_Inventario", "Artículo", "Diferencia"}}
	for _, l := range lines {
		detail.Rows = append(detail.Rows, tabular.Row{"ID_Inventario": l.SessionID, "Artículo": l.Article, "Diferencia": *l.Variance})
	}
	path := filepath.Join(t.TempDir(), "out", "Reporte_INV-20260210-0001.xlsx")

	require.NoError(t, Export(Compile("INV-20260210-0001", lines), detail, path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{ResultSheet, DetailSheet}, f.GetSheetList())
	get := func(sheet, cell string) string {
		v, err := f.GetCellValue(sheet, cell)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "4. Resultado Inventario Rotativo", get(ResultSheet, "A1"))
	assert.Equal(t, "Cant. de Art.", get(ResultSheet, "B5"))
	assert.Equal(t, "Muestra", get(ResultSheet, "A6"))
	assert.Equal(t, "Diferencia Absoluta", get(ResultSheet, "A10"))
	assert.Equal(t, "0%", get(ResultSheet, "F6"))
	assert.Equal(t, "Dif. Abs. desde", get(ResultSheet, "B12"))
	assert.Equal(t, "0.10%", get(ResultSheet, "B14"))
	assert.Equal(t, "94%", get(ResultSheet, "C14"))

	rows, err := f.GetRows(DetailSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"ID_Inventario", "Artículo", "Diferencia"}, rows[0])
	assert.Equal(t, "PH1860KB1000", rows[1][1])
}
