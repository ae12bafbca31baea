// Package verification asks the external identity registry whether a national id is valid.
package verification

import (
	"context"
	"errors"
	"time"

	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/observability"
)

//go:generate mockgen -destination=mocks/mock_verifier.go -package=mock_verification . Verifier

// Verifier checks an identity. Live and stub variants are interchangeable.
type Verifier interface {
	Verify(ctx context.Context, dni string) (Result, error)
}

// Result is the registry verdict. It is never persisted.
type Result struct {
	Valid       bool
	Dni         string
	Nombres     string
	ApellidoPat string
	ApellidoMat string
}

var (
	ErrTimeout   = pkg.NewAppError(pkg.ErrTimeoutCode, "VERIFICATION_TIMEOUT", nil)
	ErrThrottled = pkg.NewAppError(pkg.ErrTimeoutCode, "VERIFICATION_THROTTLED", nil)
)

type instrumented struct {
	next Verifier
}

// WithMetrics records latency and outcome of every call made through next.
func WithMetrics(next Verifier) Verifier {
	return &instrumented{next: next}
}

func (i *instrumented) Verify(ctx context.Context, dni string) (Result, error) {
	start := time.Now()
	res, err := i.next.Verify(ctx, dni)
	observability.VerificationLatency.Observe(time.Since(start).Seconds())
	observability.VerificationOutcomes.WithLabelValues(outcome(res, err)).Inc()
	return res, err
}

func outcome(res Result, err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case err != nil:
		return "error"
	case res.Valid:
		return "valid"
	}
	return "invalid"
}
