package types

import "testing"

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusTranscribing, true},
		{StatusTranscribing, StatusAnalyzing, true},
		{StatusAnalyzing, StatusComplete, true},
		{StatusTranscribing, StatusComplete, true},
		{StatusAnalyzing, StatusTranscribing, true},
		{StatusError, StatusTranscribing, true},
		{StatusPending, StatusError, true},
		{StatusAnalyzing, StatusError, true},

		{StatusAnalyzing, StatusPending, false},
		{StatusComplete, StatusTranscribing, false},
		{StatusComplete, StatusError, false},
		{StatusError, StatusComplete, false},
		{StatusError, StatusAnalyzing, false},
		{StatusPending, Status("done"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("analyzing"); err != nil || s != StatusAnalyzing {
		t.Errorf("got %q, %v", s, err)
	}
	if _, err := ParseStatus("queued"); err == nil {
		t.Error("expected error for unknown status")
	}
}
