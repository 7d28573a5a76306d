// Package provider tries interchangeable backends in a fixed order.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned when every provider in the chain failed.
var ErrExhausted = errors.New("all providers failed")

// Provider is one backend in a fallback chain.
type Provider[Req, Res any] struct {
	Name string
	Call func(ctx context.Context, req Req) (Res, error)
}

// Failure records why a provider was skipped.
type Failure struct {
	Provider string
	Err      error
}

// Result says which provider produced Value and what failed before it.
type Result[Res any] struct {
	Value    Res
	Provider string
	Index    int
	Failures []Failure
}

// Attempt calls providers in order and returns the first success. If stop
// reports true for a provider error the chain ends with that error as is.
// When all fail the error wraps ErrExhausted and every provider error, so
// errors.As can still find a specific cause.
func Attempt[Req, Res any](ctx context.Context, providers []Provider[Req, Res], req Req, stop func(error) bool) (Result[Res], error) {
	var res Result[Res]
	if len(providers) == 0 {
		return res, fmt.Errorf("%w: empty chain", ErrExhausted)
	}

	errs := make([]error, 0, len(providers))
	for i, p := range providers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		v, err := p.Call(ctx, req)
		if err == nil {
			res.Value = v
			res.Provider = p.Name
			res.Index = i
			return res, nil
		}
		res.Failures = append(res.Failures, Failure{Provider: p.Name, Err: err})
		if stop != nil && stop(err) {
			return res, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
	}
	return res, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}
