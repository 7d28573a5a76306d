// Package dataset moves call records in and out of spreadsheets.
package dataset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-pipeline-go/internal/types"
)

var ErrNoRows = errors.New("no data rows")

type columns struct {
	audio, id, account, title, agent int
}

// detectColumns maps header cells to fields. Spanish and English names
// are both accepted; the first match wins.
func detectColumns(header []string) columns {
	c := columns{audio: -1, id: -1, account: -1, title: -1, agent: -1}
	set := func(idx *int, i int) {
		if *idx == -1 {
			*idx = i
		}
	}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "audio") || strings.Contains(l, "url") ||
			strings.Contains(l, "grabaci") || strings.Contains(l, "record"):
			set(&c.audio, i)
		case strings.Contains(l, "account") || strings.Contains(l, "cuenta"):
			set(&c.account, i)
		case strings.Contains(l, "agent") || strings.Contains(l, "asesor"):
			set(&c.agent, i)
		case strings.Contains(l, "title") || strings.Contains(l, "títul") || strings.Contains(l, "titul"):
			set(&c.title, i)
		case l == "id" || strings.Contains(l, "call id") || strings.Contains(l, "callid"):
			set(&c.id, i)
		}
	}
	return c
}

// Load reads call records from the first sheet of an xlsx file. Rows whose
// audio cell is not an http(s) URL are skipped. defaultAccount fills rows
// without an account column.
func Load(path, defaultAccount string) ([]types.CallRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, ErrNoRows
	}
	cols := detectColumns(rows[0])
	if cols.audio == -1 {
		return nil, fmt.Errorf("no audio column in header %v", rows[0])
	}

	cell := func(r []string, idx int) string {
		if idx >= 0 && idx < len(r) {
			return strings.TrimSpace(r[idx])
		}
		return ""
	}
	var out []types.CallRecord
	for i, r := range rows[1:] {
		rec := types.CallRecord{
			ID:        cell(r, cols.id),
			AccountID: cell(r, cols.account),
			Title:     cell(r, cols.title),
			AgentName: cell(r, cols.agent),
			AudioURL:  cell(r, cols.audio),
		}
		lower := strings.ToLower(rec.AudioURL)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		if rec.AccountID == "" {
			rec.AccountID = defaultAccount
		}
		if rec.Title == "" {
			rec.Title = fmt.Sprintf("Llamada %d", i+1)
		}
		out = append(out, rec)
	}
	return out, nil
}
