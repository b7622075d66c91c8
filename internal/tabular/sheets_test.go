package tabular

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestSheets(t *testing.T, fn roundTripFunc) *SheetsBackend {
	t.Helper()
	svc, err := sheets.NewService(context.Background(),
		option.WithHTTPClient(&http.Client{Transport: fn}),
		option.WithEndpoint("https://sheets.test/"),
	)
	if err != nil {
		t.Fatal(err)
	}
	return NewSheetsBackendWithService(svc, "sheet-1")
}

func TestSheetsLoad(t *testing.T) {
	backend := newTestSheets(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/values/'Detalle'") {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("valueRenderOption"); got != "UNFORMATTED_VALUE" {
			t.Fatalf("valueRenderOption=%q", got)
		}
		return jsonResponse(http.StatusOK, `{"range":"'Detalle'!A1:C3","majorDimension":"ROWS","values":[["Artículo","Locación","Stock"],["PH1860KB1000","H-01",4],["851100K22200","H-02"]]}`), nil
	})

	tbl, err := backend.Load(context.Background(), "Detalle")
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows=%d", tbl.Len())
	}
	if tbl.Rows[0]["Stock"] != 4.0 {
		t.Fatalf("stock=%#v", tbl.Rows[0]["Stock"])
	}
	if tbl.Rows[1]["Stock"] != "" {
		t.Fatalf("short row not padded: %#v", tbl.Rows[1])
	}
}

func TestSheetsErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{
			name:   "too many requests",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"Quota exceeded for quota metric 'Read requests'","status":"RESOURCE_EXHAUSTED"}}`,
			want:   ErrRateLimited,
		},
		{
			name:   "forbidden quota",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"User rate limit exceeded","errors":[{"reason":"userRateLimitExceeded","message":"User rate limit exceeded"}]}}`,
			want:   ErrRateLimited,
		},
		{
			name:   "missing worksheet",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"Unable to parse range: 'Historial'","status":"INVALID_ARGUMENT"}}`,
			want:   ErrTableNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newTestSheets(t, func(r *http.Request) (*http.Response, error) {
				return jsonResponse(tc.status, tc.body), nil
			})
			_, err := backend.Load(context.Background(), "Historial")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestSheetsMissingWorksheetReadsEmptyThroughAdapter(t *testing.T) {
	backend := newTestSheets(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"error":{"code":400,"message":"Unable to parse range: 'Historial'"}}`), nil
	})

	tbl, err := NewAdapter(backend, Options{}).Read(context.Background(), "Historial")
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("rows=%d", tbl.Len())
	}
}

func TestSheetsReplaceCreatesMissingWorksheet(t *testing.T) {
	var calls []string
	var written sheets.ValueRange
	backend := newTestSheets(t, func(r *http.Request) (*http.Response, error) {
		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-1"):
			calls = append(calls, "get")
			return jsonResponse(http.StatusOK, `{"sheets":[{"properties":{"title":"Detalle"}}]}`), nil
		case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
			calls = append(calls, "addSheet")
			blob, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(blob), `"title":"Historial"`) {
				t.Fatalf("batchUpdate body=%s", blob)
			}
			return jsonResponse(http.StatusOK, `{"spreadsheetId":"sheet-1"}`), nil
		case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
			calls = append(calls, "clear")
			return jsonResponse(http.StatusOK, `{}`), nil
		case r.Method == http.MethodPut:
			calls = append(calls, "update")
			if got := r.URL.Query().Get("valueInputOption"); got != "RAW" {
				t.Fatalf("valueInputOption=%q", got)
			}
			if err := json.NewDecoder(r.Body).Decode(&written); err != nil {
				t.Fatal(err)
			}
			return jsonResponse(http.StatusOK, `{"updatedRows":2}`), nil
		}
		t.Fatalf("unexpected request %s %s", r.Method, path)
		return nil, nil
	})

	data := Table{Columns: []string{"ID_Inventario", "Estado"}, Rows: []Row{{"ID_Inventario": "INV-1", "Estado": "Abierto"}}}
	if err := backend.Replace(context.Background(), "Historial", data); err != nil {
		t.Fatal(err)
	}
	want := []string{"get", "addSheet", "clear", "update"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls=%v", calls)
	}
	if len(written.Values) != 2 || written.Values[0][0] != "ID_Inventario" || written.Values[1][1] != "Abierto" {
		t.Fatalf("written=%#v", written.Values)
	}

	// the worksheet is now known, so a second write skips the lookup
	calls = nil
	if err := backend.Replace(context.Background(), "Historial", data); err != nil {
		t.Fatal(err)
	}
	if strings.Join(calls, ",") != "clear,update" {
		t.Fatalf("calls=%v", calls)
	}
}
