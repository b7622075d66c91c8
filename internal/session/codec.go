package session

import (
	"strings"
	"time"

	"cyclecount/internal"
	"cyclecount/internal/tabular"
	"cyclecount/internal/util"
)

// Historial columns.
const (
	ColSessionID    = "ID_Inventario"
	ColCreatedAt    = "Fecha_Creacion"
	ColOrganization = "Concesionaria"
	ColLocationName = "Sucursal"
	ColUser         = "Usuario"
	ColStatus       = "Estado"
	ColClosedAt     = "Fecha_Cierre"
	ColClosedBy     = "Usuario_Cierre"
)

// Detalle columns beyond the shared id and branch ones.
const (
	ColStockLocation = "Locación"
	ColArticle       = "Artículo"
	ColDescription   = "Descripción"
	ColStock         = "Stock"
	ColCost          = "Cto.Rep."
	ColTotalValue    = "Valor_Total"
	ColCumulative    = "Pct_Acumulado"
	ColTier          = "Categoria"
	ColCount         = "Conteo_Fisico"
	ColVariance      = "Diferencia"
	ColCountedBy     = "Contado_Por"
	ColJustification = "Justificacion"
	ColValidated     = "Validado"
	ColValidator     = "Validador"
	ColValidatedAt   = "Fecha_Validacion"
	ColAdjustType    = "Tipo_Ajuste"
	ColAdjustQty     = "Cantidad_Ajuste"
)

var SessionColumns = []string{
	ColSessionID, ColCreatedAt, ColOrganization, ColLocationName,
	ColUser, ColStatus, ColClosedAt, ColClosedBy,
}

var DetailColumns = []string{
	ColSessionID, ColOrganization, ColLocationName, ColStockLocation, ColArticle,
	ColDescription, ColStock, ColCost, ColTotalValue, ColCumulative, ColTier,
	ColCount, ColVariance, ColCountedBy, ColJustification, ColValidated,
	ColValidator, ColValidatedAt, ColAdjustType, ColAdjustQty,
}

func EncodeSession(s internal.Session) tabular.Row {
	status := internal.WireOpen
	if s.Status == internal.SessionClosed {
		status = internal.WireClosed
	}
	return tabular.Row{
		ColSessionID:    s.ID,
		ColCreatedAt:    formatTime(&s.CreatedAt),
		ColOrganization: s.Branch.Organization,
		ColLocationName: s.Branch.Location,
		ColUser:         s.CreatedBy,
		ColStatus:       status,
		ColClosedAt:     formatTime(s.ClosedAt),
		ColClosedBy:     s.ClosedBy,
	}
}

// DecodeSession returns false for rows without an id.
func DecodeSession(r tabular.Row) (internal.Session, bool) {
	id := util.CellText(r[ColSessionID])
	if id == "" {
		return internal.Session{}, false
	}
	s := internal.Session{
		ID:        id,
		Branch:    internal.Branch{Organization: util.CellText(r[ColOrganization]), Location: util.CellText(r[ColLocationName])},
		CreatedBy: util.CellText(r[ColUser]),
		Status:    internal.SessionOpen,
		ClosedAt:  parseTime(r[ColClosedAt]),
		ClosedBy:  util.CellText(r[ColClosedBy]),
	}
	if t := parseTime(r[ColCreatedAt]); t != nil {
		s.CreatedAt = *t
	}
	if strings.EqualFold(util.CellText(r[ColStatus]), internal.WireClosed) {
		s.Status = internal.SessionClosed
	}
	return s, true
}

func EncodeLine(l internal.SampledLine) tabular.Row {
	return tabular.Row{
		ColSessionID:     l.SessionID,
		ColOrganization:  l.Branch.Organization,
		ColLocationName:  l.Branch.Location,
		ColStockLocation: l.Location,
		ColArticle:       l.Article,
		ColDescription:   l.Description,
		ColStock:         l.Stock,
		ColCost:          l.Cost,
		ColTotalValue:    l.TotalValue,
		ColCumulative:    l.CumulativeShare,
		ColTier:          string(l.Tier),
		ColCount:         optional(l.PhysicalCount),
		ColVariance:      optional(l.Variance),
		ColCountedBy:     l.CountedBy,
		ColJustification: l.Justification,
		ColValidated:     l.Validation.Wire(),
		ColValidator:     l.ValidatedBy,
		ColValidatedAt:   formatTime(l.ValidatedAt),
		ColAdjustType:    l.AdjustmentType.Wire(),
		ColAdjustQty:     optional(l.AdjustmentQuantity),
	}
}

// DecodeLine is lenient: cells it cannot read fall back to zero or unset
// rather than dropping the line.
func DecodeLine(r tabular.Row) internal.SampledLine {
	mark, _ := internal.ParseValidationMark(util.CellText(r[ColValidated]))
	kind, _ := internal.ParseAdjustmentType(util.CellText(r[ColAdjustType]))
	return internal.SampledLine{
		ClassifiedLine: internal.ClassifiedLine{
			StockLine: internal.StockLine{
				Article:     util.CellText(r[ColArticle]),
				Description: util.CellText(r[ColDescription]),
				Location:    util.CellText(r[ColStockLocation]),
				Stock:       util.CellFloat(r[ColStock]),
				Cost:        util.CellFloat(r[ColCost]),
			},
			TotalValue:      util.CellFloat(r[ColTotalValue]),
			CumulativeShare: util.CellFloat(r[ColCumulative]),
			Tier:            internal.Tier(strings.ToUpper(util.CellText(r[ColTier]))),
		},
		SessionID:          util.CellText(r[ColSessionID]),
		Branch:             internal.Branch{Organization: util.CellText(r[ColOrganization]), Location: util.CellText(r[ColLocationName])},
		PhysicalCount:      util.CellFloatPtr(r[ColCount]),
		Variance:           util.CellFloatPtr(r[ColVariance]),
		CountedBy:          util.CellText(r[ColCountedBy]),
		Justification:      util.CellText(r[ColJustification]),
		Validation:         mark,
		ValidatedBy:        util.CellText(r[ColValidator]),
		ValidatedAt:        parseTime(r[ColValidatedAt]),
		AdjustmentType:     kind,
		AdjustmentQuantity: util.CellFloatPtr(r[ColAdjustQty]),
	}
}

func rowKey(r tabular.Row) (string, internal.LineKey) {
	return util.CellText(r[ColSessionID]), internal.NewLineKey(util.CellText(r[ColArticle]), util.CellText(r[ColStockLocation]))
}

// overlay copies src onto dst so columns the program does not know about
// survive a rewrite.
func overlay(dst, src tabular.Row) {
	for k, v := range src {
		dst[k] = v
	}
}

func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(tabular.TimeLayout)
}

func parseTime(v any) *time.Time {
	s := util.CellText(v)
	if s == "" {
		return nil
	}
	for _, layout := range []string{tabular.TimeLayout, "2006-01-02T15:04:05", time.RFC3339, "02/01/2006 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t
		}
	}
	return nil
}
