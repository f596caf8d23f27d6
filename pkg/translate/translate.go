//go:generate go run go.uber.org/mock/mockgen -source=translate.go -destination=../mocks/mock_translator.go -package=mocks

// Package translate wraps the remote translation service.
//
// A Translator never leaves its caller without a usable string: on failure it
// returns the original text together with an error wrapping ErrGatewayFailure.
// Callers that only need text may ignore the error; callers that must know
// whether a real translation happened check it.
package translate

import (
	"context"
	"errors"
)

var (
	ErrGatewayFailure = errors.New("translate: gateway failure")
	ErrEmptyResult    = errors.New("translate: empty translation")
)

// Translator converts text from one language to another.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Func adapts a plain function to the Translator interface.
type Func func(ctx context.Context, text, from, to string) (string, error)

func (f Func) Translate(ctx context.Context, text, from, to string) (string, error) {
	return f(ctx, text, from, to)
}
