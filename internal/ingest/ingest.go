package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"cyclecount/internal"
	"cyclecount/internal/tabular"
	"cyclecount/internal/util"
)

// MarkerColumn identifies the header row of stock reports and entry files.
// Exports usually carry a few title lines above it.
const MarkerColumn = "Artículo"

// RowColumn holds the worksheet row number (1-based) of each record returned
// by ReadTable, for error messages.
const RowColumn = "#fila"

var ErrUnsupportedFormat = errors.New("ingest: unsupported file format (expected xlsx or html table)")

// MissingColumnsError lists the required columns a file lacks.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

type Duplicate struct {
	Key  internal.LineKey
	Rows []int
}

// DuplicateLinesError lists article/location pairs found on more than one
// row of a stock report.
type DuplicateLinesError struct {
	Duplicates []Duplicate
}

func (e *DuplicateLinesError) Error() string {
	parts := make([]string, 0, len(e.Duplicates))
	for _, d := range e.Duplicates {
		rows := make([]string, len(d.Rows))
		for i, r := range d.Rows {
			rows[i] = strconv.Itoa(r)
		}
		parts = append(parts, fmt.Sprintf("%s at %s (rows %s)", d.Key.Article, d.Key.Location, strings.Join(rows, ", ")))
	}
	return "duplicate article/location in stock report: " + strings.Join(parts, "; ")
}

func ReadFile(path string) (tabular.Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return tabular.Table{}, err
	}
	t, err := ReadTable(content, MarkerColumn)
	if err != nil {
		return tabular.Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadTable sniffs the content (xlsx zip or HTML), picks the first sheet or
// table that contains marker and returns its rows below the header.
func ReadTable(content []byte, marker string) (tabular.Table, error) {
	var (
		grids [][][]string
		err   error
	)
	switch {
	case bytes.HasPrefix(content, []byte("PK")):
		grids, err = xlsxGrids(content)
	case looksLikeHTML(content):
		grids, err = htmlGrids(content)
	default:
		return tabular.Table{}, ErrUnsupportedFormat
	}
	if err != nil {
		return tabular.Table{}, err
	}

	for _, grid := range grids {
		if idx := headerRow(grid, marker); idx >= 0 {
			return gridToTable(grid[idx:], idx+1), nil
		}
	}
	// no marker anywhere: treat the first non-empty row as header and let the
	// column check report what is missing
	for _, grid := range grids {
		for i, row := range grid {
			if !blankRow(row) {
				return gridToTable(grid[i:], i+1), nil
			}
		}
	}
	return tabular.Table{}, nil
}

func xlsxGrids(content []byte) ([][][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out [][][]string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		grid := make([][]string, 0, len(rows))
		for _, row := range rows {
			grid = append(grid, normalizeCells(row))
		}
		out = append(out, grid)
	}
	return out, nil
}

func htmlGrids(content []byte) ([][][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var out [][][]string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var grid [][]string
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.NormalizeSpaces(cell.Text()))
			})
			grid = append(grid, cells)
		})
		if len(grid) > 0 {
			out = append(out, grid)
		}
	})
	return out, nil
}

func looksLikeHTML(content []byte) bool {
	head := content
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<table")) || bytes.Contains(lower, []byte("<html"))
}

func headerRow(grid [][]string, marker string) int {
	want := headerKey(marker)
	for i, row := range grid {
		for _, cell := range row {
			if headerKey(cell) == want {
				return i
			}
		}
	}
	return -1
}

// gridToTable uses grid[0] as header; first is its worksheet row number.
// Every record gets its own row number under RowColumn.
func gridToTable(grid [][]string, first int) tabular.Table {
	values := make([][]any, 0, len(grid))
	for i, row := range grid {
		if i > 0 && blankRow(row) {
			continue
		}
		line := make([]any, 0, len(row)+1)
		if i == 0 {
			line = append(line, RowColumn)
		} else {
			line = append(line, first+i)
		}
		for _, c := range row {
			line = append(line, c)
		}
		values = append(values, line)
	}
	return tabular.FromValues(values)
}

func normalizeCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = util.NormalizeSpaces(c)
	}
	return out
}

func blankRow(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

// headerKey compares titles ignoring accents, case, spaces and dots, so
// "Cto.Rep." and "cto rep" match.
func headerKey(title string) string {
	s := util.NormalizeHeader(title)
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, ".", "")
}
