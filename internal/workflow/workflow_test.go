package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclecount/internal"
	"cyclecount/internal/auth"
	"cyclecount/internal/config"
	"cyclecount/internal/sampling"
	"cyclecount/internal/storage"
	"cyclecount/internal/tabular"
)

const sessionID = "INV-20260210-0001"

var (
	branch  = internal.Branch{Organization: "Autolux", Location: "Ax Jujuy"}
	auditor = Actor{Username: "diego_guantay", Name: "Diego Guantay", Role: auth.RoleAuditor}
	depot   = Actor{Username: "jefe_repuestos", Name: "Jefe de Repuestos", Role: auth.RoleDepot}
)

type fixture struct {
	svc     *Service
	backend *tabular.MemoryBackend
	db      *storage.DB
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()
	cfg := config.Config{
		OutputDir:     t.TempDir(),
		SessionsTable: "Historial",
		DetailTable:   "Detalle",
		SampleTargets: "85,10,5",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	db, err := storage.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	backend := tabular.NewMemoryBackend()
	adapter := tabular.NewAdapter(backend, tabular.Options{Cache: tabular.NewMemoryCache(time.Minute)})
	svc, err := New(cfg, adapter, db, nil)
	require.NoError(t, err)

	tick := time.Date(2026, 2, 10, 9, 0, 0, 0, time.Local)
	svc.SetClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	svc.SetSampler(sampling.NewSeeded(7))
	return fixture{svc: svc, backend: backend, db: db}
}

func stock() []internal.StockLine {
	return []internal.StockLine{
		{Article: "PH1860KB1000", Location: "H-01", Description: "Filtro de aceite", Stock: 4, Cost: 10000},
		{Article: "851100K22200", Location: "H-02", Description: "Escobilla", Stock: 3, Cost: 15000},
		{Article: "480690D12100", Location: "G-10", Description: "Brazo de suspension", Stock: 1, Cost: 50000},
		{Article: "V01-MIN-0001", Location: "G-11", Description: "Kit de embrague", Stock: 1, Cost: 30000},
	}
}

func counts() []internal.CountEntry {
	return []internal.CountEntry{
		{Key: internal.NewLineKey("PH1860KB1000", "H-01"), Count: "1"},
		{Key: internal.NewLineKey("851100K22200", "H-02"), Count: "1"},
		{Key: internal.NewLineKey("480690D12100", "G-10"), Count: "8"},
		{Key: internal.NewLineKey("V01-MIN-0001", "G-11"), Count: "2"},
	}
}

func approveAll() []internal.ValidationEntry {
	var out []internal.ValidationEntry
	for _, c := range counts() {
		out = append(out, internal.ValidationEntry{Key: c.Key, Mark: internal.ValidationApproved})
	}
	return out
}

func (f fixture) start(t *testing.T) {
	t.Helper()
	out := f.svc.StartSession(context.Background(), auditor, sessionID, branch, stock())
	require.True(t, out.OK(), out.Message)
}

func TestFullAuditCycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out := f.svc.StartSession(ctx, auditor, sessionID, branch, stock())
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, 4, out.Rows, "small tiers are sampled in full")

	out = f.svc.SubmitCounts(ctx, auditor, sessionID, counts())
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, 4, out.Rows)

	out = f.svc.SubmitJustifications(ctx, depot, sessionID, []internal.JustificationEntry{
		{Key: internal.NewLineKey("PH1860KB1000", "H-01"), Text: "vendido sin facturar"},
		{Key: internal.NewLineKey("480690D12100", "G-10"), Text: "ingreso sin remito"},
	})
	require.True(t, out.OK(), out.Message)
	assert.Equal(t, 2, out.Rows)

	out = f.svc.Validate(ctx, auditor, sessionID, approveAll())
	require.True(t, out.OK(), out.Message)

	summary, err := f.svc.Report(ctx, auditor, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "13", summary.Absolute.Count.String())
	assert.Equal(t, "440000", summary.Absolute.Value.String())
	assert.Equal(t, 0, summary.Grade)
	assert.Equal(t, 0, summary.PendingValidation)

	out = f.svc.CloseSession(ctx, auditor, sessionID)
	require.True(t, out.OK(), out.Message)
	assert.Empty(t, out.Warnings)

	open, err := f.svc.ListOpenSessions(ctx, auditor)
	require.NoError(t, err)
	assert.Empty(t, open)

	entries, err := f.db.ListAudit(ctx, sessionID)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, internal.OutcomeSuccess, e.Outcome)
	}
	assert.Equal(t, []string{ActionSessionOpen, ActionCountsSubmit, ActionJustify, ActionValidate, ActionSessionClose}, actions)
}

func TestRoleChecks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out := f.svc.StartSession(ctx, depot, sessionID, branch, stock())
	assert.False(t, out.OK())
	assert.Contains(t, out.Message, "not allowed")
	assert.Equal(t, 0, f.backend.Replaces)

	f.start(t)

	assert.False(t, f.svc.SubmitCounts(ctx, depot, sessionID, counts()).OK())
	assert.False(t, f.svc.Validate(ctx, depot, sessionID, approveAll()).OK())
	assert.False(t, f.svc.CloseSession(ctx, depot, sessionID).OK())
	assert.False(t, f.svc.SubmitJustifications(ctx, auditor, sessionID, nil).OK())

	_, err := f.svc.Report(ctx, depot, sessionID)
	assert.True(t, errors.Is(err, ErrForbidden))

	entries, err := f.db.ListAudit(ctx, "")
	require.NoError(t, err)
	failed := 0
	for _, e := range entries {
		if e.Outcome == internal.OutcomeFailed {
			failed++
		}
	}
	assert.Equal(t, 5, failed, "denied attempts are audited")
}

func TestListingRequiresAKnownRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.start(t)

	sessions, err := f.svc.ListSessions(ctx, depot)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	lines, err := f.svc.Lines(ctx, depot, sessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, lines)

	stranger := Actor{Username: "visita"}
	_, err = f.svc.ListSessions(ctx, stranger)
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.svc.ListOpenSessions(ctx, stranger)
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.svc.Lines(ctx, stranger, sessionID)
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestStepsRequireAnOpenSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out := f.svc.SubmitCounts(ctx, auditor, "INV-missing", counts())
	assert.False(t, out.OK())
	assert.Contains(t, out.Message, "not found")

	f.start(t)
	require.True(t, f.svc.CloseSession(ctx, auditor, sessionID).OK())

	out = f.svc.SubmitCounts(ctx, auditor, sessionID, counts())
	assert.False(t, out.OK())
	assert.Contains(t, out.Message, "closed")

	out = f.svc.CloseSession(ctx, auditor, sessionID)
	assert.False(t, out.OK(), "second close")
}

func TestStartSessionRejectsDuplicateID(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	writes := f.backend.Replaces

	out := f.svc.StartSession(context.Background(), auditor, sessionID, branch, stock())

	assert.False(t, out.OK())
	assert.Equal(t, writes, f.backend.Replaces)
}

func TestStartSessionWithoutStockValue(t *testing.T) {
	f := newFixture(t, nil)
	lines := stock()
	for i := range lines {
		lines[i].Cost = 0
	}

	out := f.svc.StartSession(context.Background(), auditor, "", branch, lines)

	assert.False(t, out.OK())
	assert.Contains(t, out.Message, "cannot classify")
	assert.Equal(t, 0, f.backend.Replaces)
}

func TestStartSessionPartialWhenSampleNotSaved(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.Hook = func(op, table string) error {
		if op == tabular.OpReplace && table == "Detalle" {
			return errors.New("permission denied")
		}
		return nil
	}

	out := f.svc.StartSession(context.Background(), auditor, sessionID, branch, stock())

	assert.Equal(t, internal.OutcomePartial, out.Status)
	entries, err := f.db.ListAudit(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, internal.OutcomePartial, entries[0].Outcome)
}

func TestCloseWarnsAboutOpenWork(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.start(t)
	require.True(t, f.svc.SubmitCounts(ctx, auditor, sessionID, counts()[:2]).OK())

	out := f.svc.CloseSession(ctx, auditor, sessionID)

	require.True(t, out.OK(), out.Message)
	require.Len(t, out.Warnings, 2)
	assert.Contains(t, out.Warnings[0], "2 sampled lines were never counted")
	assert.Contains(t, out.Warnings[1], "pending validation")
}

func TestStrictCloseBlocksPendingValidation(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.StrictClose = true })
	ctx := context.Background()
	f.start(t)
	require.True(t, f.svc.SubmitCounts(ctx, auditor, sessionID, counts()).OK())

	out := f.svc.CloseSession(ctx, auditor, sessionID)
	assert.False(t, out.OK())
	assert.Contains(t, out.Message, "pending validation")

	require.True(t, f.svc.Validate(ctx, auditor, sessionID, approveAll()).OK())
	assert.True(t, f.svc.CloseSession(ctx, auditor, sessionID).OK())
}

func TestExportReportWritesWorkbook(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.start(t)
	require.True(t, f.svc.SubmitCounts(ctx, auditor, sessionID, counts()).OK())

	path, out := f.svc.ExportReport(ctx, auditor, sessionID, "")

	require.True(t, out.OK(), out.Message)
	assert.Equal(t, "Reporte_"+sessionID+".xlsx", filepath.Base(path))
	assert.Equal(t, 4, out.Rows)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestNewRejectsBadTargets(t *testing.T) {
	adapter := tabular.NewAdapter(tabular.NewMemoryBackend(), tabular.Options{})
	_, err := New(config.Config{SampleTargets: "85,ten,5"}, adapter, nil, nil)
	assert.Error(t, err)
}

func TestNewParsesConfiguredTargets(t *testing.T) {
	adapter := tabular.NewAdapter(tabular.NewMemoryBackend(), tabular.Options{})
	svc, err := New(config.Config{SampleTargets: "80,15,5"}, adapter, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, sampling.Targets{A: 80, B: 15, C: 5}, svc.Targets())
}
