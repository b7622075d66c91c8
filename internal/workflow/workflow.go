// Package workflow runs each audit step on behalf of an authenticated actor:
// role check, session state check, the step itself and its audit entry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cyclecount/internal"
	"cyclecount/internal/abc"
	"cyclecount/internal/auth"
	"cyclecount/internal/config"
	"cyclecount/internal/logging"
	"cyclecount/internal/reconcile"
	"cyclecount/internal/report"
	"cyclecount/internal/sampling"
	"cyclecount/internal/session"
	"cyclecount/internal/tabular"
)

const (
	ActionSessionOpen  = "session.open"
	ActionSessionClose = "session.close"
	ActionCountsSubmit = "counts.submit"
	ActionJustify      = "justifications.submit"
	ActionValidate     = "validations.submit"
	ActionReportExport = "report.export"
)

var ErrForbidden = errors.New("workflow: action not allowed for this role")

// Actor is the authenticated user a request runs for.
type Actor struct {
	Username string
	Name     string
	Role     auth.Role
}

func ActorFromUser(u auth.User) Actor {
	return Actor{Username: u.Username, Name: u.Name, Role: u.Role}
}

// AuditLog receives one entry per mutating step.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry internal.AuditLogEntry) error
}

type Service struct {
	store    *session.Store
	sessions *session.Manager
	engine   *reconcile.Engine
	audit    AuditLog
	log      *zap.Logger

	targets     sampling.Targets
	sampler     *sampling.Sampler
	strictClose bool
	outputDir   string
	now         func() time.Time
}

func New(cfg config.Config, adapter *tabular.Adapter, audit AuditLog, log *zap.Logger) (*Service, error) {
	targets, err := sampling.ParseTargets(cfg.SampleTargets)
	if err != nil {
		return nil, err
	}
	log = logging.OrNop(log)

	s := &Service{
		audit:       audit,
		log:         log.Named("workflow"),
		targets:     targets,
		sampler:     sampling.NewSeeded(uint64(time.Now().UnixNano())),
		strictClose: cfg.StrictClose,
		outputDir:   cfg.OutputDir,
		now:         time.Now,
	}
	s.store = session.NewStore(adapter, cfg.SessionsTable, cfg.DetailTable)
	s.sessions = session.NewManager(s.store, log)
	s.engine = reconcile.NewEngine(s.store, log, reconcile.Options{
		RequireDistinctValidator: cfg.RequireDistinctValidator,
		Clock:                    func() time.Time { return s.now() },
	})
	return s, nil
}

// SetClock replaces time.Now for session ids, timestamps and audit entries.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.sessions.SetClock(now)
}

func (s *Service) SetSampler(sampler *sampling.Sampler) {
	s.sampler = sampler
}

func (s *Service) Targets() sampling.Targets {
	return s.targets
}

// StartSession classifies the stock, draws the sample and opens a session
// with it. An empty id lets the manager generate one.
func (s *Service) StartSession(ctx context.Context, actor Actor, id string, branch internal.Branch, stock []internal.StockLine) internal.Outcome {
	if !auth.CanCreateSession(actor.Role) {
		return s.record(ctx, actor, ActionSessionOpen, s.forbidden(id, "create sessions"))
	}

	classified, err := abc.Classify(stock)
	if err != nil {
		return s.record(ctx, actor, ActionSessionOpen, internal.Failed(id, fmt.Sprintf("cannot classify stock: %v", err)))
	}
	sample := s.sampler.Draw(classified, s.targets)
	s.log.Info("sample drawn", zap.Int("stock_lines", len(stock)), zap.Int("sample", len(sample)), zap.String("targets", s.targets.String()))

	out := s.sessions.Open(ctx, id, branch, actor.Username, sample)
	return s.record(ctx, actor, ActionSessionOpen, out)
}

func (s *Service) SubmitCounts(ctx context.Context, actor Actor, sessionID string, entries []internal.CountEntry) internal.Outcome {
	if !auth.CanCount(actor.Role) {
		return s.record(ctx, actor, ActionCountsSubmit, s.forbidden(sessionID, "enter counts"))
	}
	if out, ok := s.requireOpen(ctx, sessionID); !ok {
		return s.record(ctx, actor, ActionCountsSubmit, out)
	}
	return s.record(ctx, actor, ActionCountsSubmit, s.engine.SubmitCounts(ctx, sessionID, actor.Username, entries))
}

func (s *Service) SubmitJustifications(ctx context.Context, actor Actor, sessionID string, entries []internal.JustificationEntry) internal.Outcome {
	if !auth.CanJustify(actor.Role) {
		return s.record(ctx, actor, ActionJustify, s.forbidden(sessionID, "enter justifications"))
	}
	if out, ok := s.requireOpen(ctx, sessionID); !ok {
		return s.record(ctx, actor, ActionJustify, out)
	}
	return s.record(ctx, actor, ActionJustify, s.engine.SubmitJustifications(ctx, sessionID, entries))
}

func (s *Service) Validate(ctx context.Context, actor Actor, sessionID string, entries []internal.ValidationEntry) internal.Outcome {
	if !auth.CanValidate(actor.Role) {
		return s.record(ctx, actor, ActionValidate, s.forbidden(sessionID, "validate"))
	}
	if out, ok := s.requireOpen(ctx, sessionID); !ok {
		return s.record(ctx, actor, ActionValidate, out)
	}
	return s.record(ctx, actor, ActionValidate, s.engine.SubmitValidations(ctx, sessionID, actor.Username, entries))
}

// CloseSession closes the session. Lines never counted or still waiting
// for validation become warnings; with STRICT_CLOSE pending validations
// block the close instead.
func (s *Service) CloseSession(ctx context.Context, actor Actor, sessionID string) internal.Outcome {
	if !auth.CanClose(actor.Role) {
		return s.record(ctx, actor, ActionSessionClose, s.forbidden(sessionID, "close sessions"))
	}
	lines, err := s.store.Lines(ctx, sessionID)
	if err != nil {
		return s.record(ctx, actor, ActionSessionClose, storeFailure(sessionID, "read session lines", err))
	}

	var warnings []string
	if n := len(reconcile.Uncounted(lines)); n > 0 {
		warnings = append(warnings, fmt.Sprintf("%d sampled lines were never counted", n))
	}
	pending := reconcile.PendingValidation(lines)
	if len(pending) > 0 {
		keys := make([]string, 0, len(pending))
		for _, l := range pending {
			keys = append(keys, l.Key().String())
		}
		msg := fmt.Sprintf("%d lines with differences are pending validation: %s", len(pending), strings.Join(keys, ", "))
		if s.strictClose {
			out := internal.Failed(sessionID, "session not closed: "+msg)
			return s.record(ctx, actor, ActionSessionClose, out)
		}
		warnings = append(warnings, msg)
	}

	return s.record(ctx, actor, ActionSessionClose, s.sessions.CloseSession(ctx, sessionID, actor.Username, warnings))
}

// Report compiles the current figures of a session, open or closed.
func (s *Service) Report(ctx context.Context, actor Actor, sessionID string) (report.Summary, error) {
	if !auth.CanViewReport(actor.Role) {
		return report.Summary{}, fmt.Errorf("%w: %s cannot view reports", ErrForbidden, actor.Username)
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return report.Summary{}, err
	}
	lines, err := s.store.Lines(ctx, sessionID)
	if err != nil {
		return report.Summary{}, err
	}
	return report.Compile(sessionID, lines), nil
}

// ExportReport writes the report workbook. An empty path puts it in the
// output directory as Reporte_<id>.xlsx.
func (s *Service) ExportReport(ctx context.Context, actor Actor, sessionID, path string) (string, internal.Outcome) {
	summary, err := s.Report(ctx, actor, sessionID)
	if err != nil {
		return "", s.record(ctx, actor, ActionReportExport, internal.Failed(sessionID, fmt.Sprintf("report not compiled: %v", err)))
	}
	detail, err := s.store.DetailRows(ctx, sessionID)
	if err != nil {
		return "", s.record(ctx, actor, ActionReportExport, storeFailure(sessionID, "read detail", err))
	}
	if path == "" {
		path = filepath.Join(s.outputDir, "Reporte_"+sessionID+".xlsx")
	}
	if err := report.Export(summary, detail, path); err != nil {
		return "", s.record(ctx, actor, ActionReportExport, internal.Failed(sessionID, fmt.Sprintf("report not written: %v", err)))
	}
	out := internal.Outcome{
		Status:    internal.OutcomeSuccess,
		SessionID: sessionID,
		Rows:      detail.Len(),
		Message:   fmt.Sprintf("report written to %s (grade %d%%)", path, summary.Grade),
	}
	return path, s.record(ctx, actor, ActionReportExport, out)
}

func (s *Service) Lines(ctx context.Context, actor Actor, sessionID string) ([]internal.SampledLine, error) {
	if !auth.CanListSessions(actor.Role) {
		return nil, fmt.Errorf("%w: %s cannot view session lines", ErrForbidden, actor.Username)
	}
	return s.store.Lines(ctx, sessionID)
}

func (s *Service) ListSessions(ctx context.Context, actor Actor) ([]internal.Session, error) {
	if !auth.CanListSessions(actor.Role) {
		return nil, fmt.Errorf("%w: %s cannot list sessions", ErrForbidden, actor.Username)
	}
	return s.sessions.ListSessions(ctx)
}

func (s *Service) ListOpenSessions(ctx context.Context, actor Actor) ([]internal.Session, error) {
	if !auth.CanListSessions(actor.Role) {
		return nil, fmt.Errorf("%w: %s cannot list sessions", ErrForbidden, actor.Username)
	}
	return s.sessions.ListOpenSessions(ctx)
}

func (s *Service) requireOpen(ctx context.Context, sessionID string) (internal.Outcome, bool) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return internal.Failed(sessionID, fmt.Sprintf("session %s not found", sessionID)), false
	}
	if err != nil {
		return storeFailure(sessionID, "read sessions", err), false
	}
	if sess.Status == internal.SessionClosed {
		return internal.Failed(sessionID, fmt.Sprintf("session %s is closed", sessionID)), false
	}
	return internal.Outcome{}, true
}

func (s *Service) forbidden(sessionID, what string) internal.Outcome {
	return internal.Failed(sessionID, fmt.Sprintf("%v: cannot %s", ErrForbidden, what))
}

func storeFailure(sessionID, what string, err error) internal.Outcome {
	out := internal.Failed(sessionID, fmt.Sprintf("%s: %v", what, err))
	out.Retryable = tabular.IsRetryable(err)
	return out
}

// record writes the audit entry for out and returns out unchanged. A failed
// audit write is logged and does not alter the outcome.
func (s *Service) record(ctx context.Context, actor Actor, action string, out internal.Outcome) internal.Outcome {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("actor", actor.Username),
		zap.String("session", out.SessionID),
		zap.String("outcome", string(out.Status)),
		zap.Int("rows", out.Rows),
	}
	switch out.Status {
	case internal.OutcomeSuccess:
		s.log.Info(out.Message, fields...)
	case internal.OutcomePartial:
		s.log.Error(out.Message, fields...)
	default:
		s.log.Warn(out.Message, append(fields, zap.Bool("retryable", out.Retryable))...)
	}

	if s.audit == nil {
		return out
	}
	msg := out.Message
	if len(out.Warnings) > 0 {
		msg = fmt.Sprintf("%s; %d warnings: %s", msg, len(out.Warnings), strings.Join(out.Warnings, " | "))
	}
	entry := internal.AuditLogEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Actor:     actor.Username,
		Action:    action,
		SessionID: out.SessionID,
		Rows:      out.Rows,
		Outcome:   out.Status,
		Message:   msg,
	}
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.log.Error("audit entry not written", append(fields, zap.Error(err))...)
	}
	return out
}
