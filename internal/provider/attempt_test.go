package provider

import (
	"context"
	"errors"
	"testing"
)

var errBoom = errors.New("boom")

func chain(calls *[]string, outcomes map[string]error) []Provider[string, string] {
	var ps []Provider[string, string]
	for _, name := range []string{"a", "b", "c"} {
		name := name
		ps = append(ps, Provider[string, string]{
			Name: name,
			Call: func(_ context.Context, req string) (string, error) {
				*calls = append(*calls, name)
				if err := outcomes[name]; err != nil {
					return "", err
				}
				return name + ":" + req, nil
			},
		})
	}
	return ps
}

func TestAttempt_FallsThroughToLast(t *testing.T) {
	var calls []string
	res, err := Attempt(context.Background(), chain(&calls, map[string]error{"a": errBoom, "b": errBoom}), "x", nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if res.Provider != "c" || res.Index != 2 || res.Value != "c:x" {
		t.Errorf("res = %+v", res)
	}
	if len(res.Failures) != 2 {
		t.Errorf("failures = %d, want 2", len(res.Failures))
	}
	if len(calls) != 3 {
		t.Errorf("calls = %v, want each provider once", calls)
	}
}

func TestAttempt_FirstWins(t *testing.T) {
	var calls []string
	res, err := Attempt(context.Background(), chain(&calls, nil), "x", nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if res.Provider != "a" || len(calls) != 1 {
		t.Errorf("provider = %s calls = %v", res.Provider, calls)
	}
}

func TestAttempt_AllFail(t *testing.T) {
	var calls []string
	_, err := Attempt(context.Background(), chain(&calls, map[string]error{"a": errBoom, "b": errBoom, "c": errBoom}), "x", nil)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
}

func TestAttempt_Stop(t *testing.T) {
	stopErr := errors.New("too large")
	var calls []string
	_, err := Attempt(context.Background(), chain(&calls, map[string]error{"a": stopErr}), "x",
		func(err error) bool { return errors.Is(err, stopErr) })
	if !errors.Is(err, stopErr) || errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want stop error only", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only a", calls)
	}
}

func TestAttempt_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls []string
	_, err := Attempt(ctx, chain(&calls, nil), "x", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}
