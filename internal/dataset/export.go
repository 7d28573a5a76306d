package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-pipeline-go/internal/aggregator"
	"call-pipeline-go/internal/types"
)

const (
	callsSheet   = "Llamadas"
	summarySheet = "Resumen"
)

var callHeader = []interface{}{
	"ID", "Cuenta", "Título", "Asesor", "Audio", "Estado", "Duración (s)",
	"Tema", "Sentimiento", "Puntaje", "Resumen", "Oportunidades",
}

// Export writes calls with their latest feedback to an xlsx file, plus a
// summary sheet built from the account insight.
func Export(path string, calls []types.CallRecord, feedback map[string]types.FeedbackRecord, ins aggregator.Insight) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", callsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(callsSheet, "A1", &callHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, c := range calls {
		var score interface{}
		opps := ""
		if fb, ok := feedback[c.ID]; ok {
			score = fb.Score
			opps = strings.Join(fb.Opportunities, "; ")
		}
		row := []interface{}{
			c.ID, c.AccountID, c.Title, c.AgentName, c.AudioURL, string(c.Status), c.DurationSeconds,
			c.CallTopic, c.Sentiment, score, c.Summary, opps,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(callsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Cuenta", ins.AccountID},
		{"Llamadas evaluadas", ins.Calls},
		{"Puntaje promedio", ins.AverageScore},
		{"Tasa negativa", ins.NegativeRate},
	}
	for _, t := range sortedKeys(ins.TopicCounts) {
		rows = append(rows, []interface{}{"Tema: " + t, ins.TopicCounts[t]})
	}
	for _, b := range sortedKeys(ins.BehaviorCompliance) {
		rows = append(rows, []interface{}{"Cumplimiento: " + b, ins.BehaviorCompliance[b]})
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
