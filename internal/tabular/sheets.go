package tabular

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"cyclecount/internal/config"
)

var _ Backend = (*SheetsBackend)(nil)

// SheetsBackend stores each table as a worksheet of one spreadsheet, header
// in row 1.
type SheetsBackend struct {
	service       *sheets.Service
	spreadsheetID string
	timeout       time.Duration

	mu    sync.Mutex
	known map[string]bool
}

// NewSheetsBackend authenticates with a service-account JSON file when
// SHEETS_CREDENTIALS_FILE is set, and with an OAuth refresh token otherwise.
func NewSheetsBackend(ctx context.Context, cfg config.Config) (*SheetsBackend, error) {
	if err := cfg.Require("SHEETS_SPREADSHEET_ID", cfg.SheetsSpreadsheetID); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.SheetsCredentialsFile) != "" {
		blob, err := os.ReadFile(cfg.SheetsCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read sheets credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, blob, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parse sheets credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	} else {
		if err := cfg.Require("SHEETS_CLIENT_ID", cfg.SheetsClientID); err != nil {
			return nil, err
		}
		if err := cfg.Require("SHEETS_CLIENT_SECRET", cfg.SheetsClientSecret); err != nil {
			return nil, err
		}
		if err := cfg.Require("SHEETS_REFRESH_TOKEN", cfg.SheetsRefreshToken); err != nil {
			return nil, err
		}
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.SheetsClientID,
			ClientSecret: cfg.SheetsClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.SheetsRedirectURI,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.SheetsRefreshToken})
		opts = append(opts, option.WithTokenSource(tokenSource))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	backend := NewSheetsBackendWithService(svc, cfg.SheetsSpreadsheetID)
	backend.timeout = time.Duration(cfg.SheetsTimeoutMs) * time.Millisecond
	return backend, nil
}

func NewSheetsBackendWithService(svc *sheets.Service, spreadsheetID string) *SheetsBackend {
	return &SheetsBackend{
		service:       svc,
		spreadsheetID: spreadsheetID,
		timeout:       30 * time.Second,
		known:         map[string]bool{},
	}
}

func (b *SheetsBackend) Load(ctx context.Context, table string) (Table, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	resp, err := b.service.Spreadsheets.Values.Get(b.spreadsheetID, sheetRange(table)).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return Table{}, classifySheetsError(err)
	}
	b.markKnown(table)
	return FromValues(resp.Values), nil
}

func (b *SheetsBackend) Replace(ctx context.Context, table string, data Table) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := b.ensureSheet(ctx, table); err != nil {
		return err
	}
	if _, err := b.service.Spreadsheets.Values.Clear(b.spreadsheetID, sheetRange(table), &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return classifySheetsError(err)
	}
	if len(data.Columns) == 0 {
		return nil
	}
	body := &sheets.ValueRange{MajorDimension: "ROWS", Values: data.Values()}
	_, err := b.service.Spreadsheets.Values.Update(b.spreadsheetID, sheetRange(table)+"!A1", body).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return classifySheetsError(err)
	}
	return nil
}

// ensureSheet creates the worksheet on first write so an empty spreadsheet
// bootstraps itself.
func (b *SheetsBackend) ensureSheet(ctx context.Context, table string) error {
	if b.isKnown(table) {
		return nil
	}
	resp, err := b.service.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return classifySheetsError(err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			b.markKnown(sh.Properties.Title)
		}
	}
	if b.isKnown(table) {
		return nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: table}},
		}},
	}
	if _, err := b.service.Spreadsheets.BatchUpdate(b.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classifySheetsError(err)
	}
	b.markKnown(table)
	return nil
}

func (b *SheetsBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *SheetsBackend) isKnown(table string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.known[table]
}

func (b *SheetsBackend) markKnown(table string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.known[table] = true
}

func sheetRange(table string) string {
	return "'" + strings.ReplaceAll(table, "'", "''") + "'"
}

var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"RATE_LIMIT_EXCEEDED":   true,
}

func classifySheetsError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case gerr.Code == http.StatusForbidden && hasQuotaReason(gerr):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range"):
		return fmt.Errorf("%w: %v", ErrTableNotFound, err)
	}
	return err
}

func hasQuotaReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if quotaReasons[item.Reason] {
			return true
		}
	}
	return strings.Contains(strings.ToLower(gerr.Message), "quota")
}
