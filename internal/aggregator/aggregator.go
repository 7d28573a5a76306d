package aggregator

import (
	"sort"

	"call-pipeline-go/internal/types"
)

// Insight summarizes the feedback rows of one account.
type Insight struct {
	AccountID          string             `json:"account_id"`
	Calls              int                `json:"calls"`
	AverageScore       float64            `json:"average_score"`
	NegativeRate       float64            `json:"negative_rate"`
	SentimentCounts    map[string]int     `json:"sentiment_counts"`
	TopicCounts        map[string]int     `json:"topic_counts"`
	BehaviorCompliance map[string]float64 `json:"behavior_compliance"`
	TopOpportunities   []string           `json:"top_opportunities"`
}

const topOpportunities = 3

// Aggregate folds feedback rows into an Insight. Only the latest row per
// call counts, so reprocessed calls are not double counted.
func Aggregate(accountID string, rows []types.FeedbackRecord) Insight {
	latest := map[string]types.FeedbackRecord{}
	for _, r := range rows {
		if prev, ok := latest[r.CallID]; !ok || !r.CreatedAt.Before(prev.CreatedAt) {
			latest[r.CallID] = r
		}
	}

	ins := Insight{
		AccountID:          accountID,
		SentimentCounts:    map[string]int{},
		TopicCounts:        map[string]int{},
		BehaviorCompliance: map[string]float64{},
		TopOpportunities:   []string{},
	}
	totalScore := 0
	behaviorTotal := map[string]int{}
	behaviorOK := map[string]int{}
	opps := map[string]int{}
	for _, r := range latest {
		ins.Calls++
		totalScore += r.Score
		ins.SentimentCounts[r.Sentiment]++
		for _, t := range r.Topics {
			ins.TopicCounts[t]++
		}
		for _, b := range r.BehaviorAnalysis {
			behaviorTotal[b.Name]++
			if b.Compliant {
				behaviorOK[b.Name]++
			}
		}
		for _, o := range r.Opportunities {
			opps[o]++
		}
	}
	if ins.Calls == 0 {
		return ins
	}

	ins.AverageScore = float64(totalScore) / float64(ins.Calls)
	ins.NegativeRate = float64(ins.SentimentCounts["negative"]) / float64(ins.Calls)
	for k, tot := range behaviorTotal {
		ins.BehaviorCompliance[k] = float64(behaviorOK[k]) / float64(tot)
	}

	type oc struct {
		o string
		c int
	}
	var arr []oc
	for k, v := range opps {
		arr = append(arr, oc{k, v})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].c != arr[j].c {
			return arr[i].c > arr[j].c
		}
		return arr[i].o < arr[j].o
	})
	for i := 0; i < len(arr) && i < topOpportunities; i++ {
		ins.TopOpportunities = append(ins.TopOpportunities, arr[i].o)
	}
	return ins
}
