package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"call-pipeline-go/internal/llm"
	"call-pipeline-go/internal/types"
)

var ErrNoJSON = errors.New("no JSON object in model output")

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Feedback is the normalized result of the scoring stage.
type Feedback struct {
	Score         int                    `json:"score"`
	Positive      []string               `json:"positive"`
	Negative      []string               `json:"negative"`
	Opportunities []string               `json:"opportunities"`
	Sentiment     string                 `json:"sentiment"`
	Entities      []string               `json:"entities"`
	Topics        []string               `json:"topics"`
	Behaviors     []types.BehaviorResult `json:"behavior_analysis"`
}

// ParseFeedback extracts the first JSON object from raw and normalizes it:
// score clamped to [0,100], list fields coerced to string slices, sentiment
// folded into positive/negative/neutral. One behavior result is produced per
// requested behavior, in request order.
func ParseFeedback(raw string, behaviors []types.Behavior) (Feedback, error) {
	obj := llm.ExtractJSON(raw)
	if obj == "" {
		return Feedback{}, ErrNoJSON
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return Feedback{}, fmt.Errorf("decoding feedback: %w", err)
	}

	return Feedback{
		Score:         ClampScore(toNumber(m["score"])),
		Positive:      toStrings(m["positive"]),
		Negative:      toStrings(m["negative"]),
		Opportunities: toStrings(m["opportunities"]),
		Sentiment:     NormalizeSentiment(toString(m["sentiment"])),
		Entities:      toStrings(m["entities"]),
		Topics:        toStrings(m["topics"]),
		Behaviors:     matchBehaviors(m["behavior_analysis"], behaviors),
	}, nil
}

// FallbackFeedback is used when the scoring stage produced nothing usable.
func FallbackFeedback(behaviors []types.Behavior) Feedback {
	return Feedback{
		Score:         50,
		Positive:      []string{},
		Negative:      []string{},
		Opportunities: []string{"Revisar la llamada manualmente: el análisis automático no estuvo disponible."},
		Sentiment:     SentimentNeutral,
		Entities:      []string{},
		Topics:        []string{},
		Behaviors:     matchBehaviors(nil, behaviors),
	}
}

// NoContentFeedback is written when the transcript has nothing to analyze.
func NoContentFeedback(reason string) Feedback {
	return Feedback{
		Score:         0,
		Positive:      []string{},
		Negative:      []string{"No hay contenido analizable en la llamada: " + reason},
		Opportunities: []string{},
		Sentiment:     SentimentNeutral,
		Entities:      []string{},
		Topics:        []string{},
		Behaviors:     []types.BehaviorResult{},
	}
}

func ClampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(math.Round(v))
}

func NormalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "positivo", "positiva":
		return SentimentPositive
	case "negative", "negativo", "negativa":
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// toStrings never returns nil so empty lists serialize as [].
func toStrings(v any) []string {
	out := []string{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range arr {
		var s string
		switch x := item.(type) {
		case string:
			s = x
		case float64, bool:
			s = fmt.Sprint(x)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchBehaviors(v any, behaviors []types.Behavior) []types.BehaviorResult {
	out := make([]types.BehaviorResult, 0, len(behaviors))
	if len(behaviors) == 0 {
		return out
	}

	byKey := map[string]map[string]any{}
	if arr, ok := v.([]any); ok {
		for _, item := range arr {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if id := toString(obj["behavior_id"]); id != "" {
				byKey["id:"+id] = obj
			}
			if name := toString(obj["name"]); name != "" {
				byKey["name:"+strings.ToLower(name)] = obj
			}
		}
	}

	for _, b := range behaviors {
		res := types.BehaviorResult{BehaviorID: b.ID, Name: b.Name, Comment: "No evaluado"}
		obj, ok := byKey["id:"+b.ID]
		if !ok {
			obj, ok = byKey["name:"+strings.ToLower(b.Name)]
		}
		if ok {
			res.Compliant, _ = obj["compliant"].(bool)
			res.Comment = strings.TrimSpace(toString(obj["comment"]))
		}
		out = append(out, res)
	}
	return out
}

// Record turns f into the row persisted for a run.
func (f Feedback) Record(id, callID, accountID string, at time.Time) types.FeedbackRecord {
	return types.FeedbackRecord{
		ID:               id,
		CallID:           callID,
		AccountID:        accountID,
		Score:            f.Score,
		Positive:         f.Positive,
		Negative:         f.Negative,
		Opportunities:    f.Opportunities,
		Sentiment:        f.Sentiment,
		Entities:         f.Entities,
		Topics:           f.Topics,
		BehaviorAnalysis: f.Behaviors,
		CreatedAt:        at,
	}
}
