package verification

import (
	"context"
	"time"
)

// Placeholder identity returned by StubClient.
const (
	StubNombres     = "NOMBRE STUB"
	StubApellidoPat = "APELLIDO_PAT"
	StubApellidoMat = "APELLIDO_MAT"
)

// StubClient answers every call with a fixed verdict after an optional delay. It has no transport.
type StubClient struct {
	valid bool
	delay time.Duration
}

func NewStubClient(valid bool, delay time.Duration) *StubClient {
	return &StubClient{valid: valid, delay: delay}
}

func (s *StubClient) Verify(ctx context.Context, dni string) (Result, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Result{Valid: s.valid, Dni: dni, Nombres: StubNombres, ApellidoPat: StubApellidoPat, ApellidoMat: StubApellidoMat}, nil
}
