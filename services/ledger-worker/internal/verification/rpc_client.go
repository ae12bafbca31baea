package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"go.uber.org/zap"
)

const (
	DefaultTimeout     = 5 * time.Second
	verifyIdentityType = "VerifyIdentity"
)

// Transport carries requests to the registry and opens private reply destinations.
type Transport interface {
	// Listen opens destination and must be subscribed before it returns.
	Listen(ctx context.Context, destination string) (ReplyListener, error)
	Publish(ctx context.Context, payload []byte) error
}

// ReplyListener delivers raw messages arriving on one reply destination until closed.
type ReplyListener interface {
	Messages() <-chan []byte
	Close() error
}

type request struct {
	Type          string `json:"type"`
	Dni           string `json:"dni"`
	CorrelationID string `json:"correlationId"`
	ReplyTo       string `json:"replyTo"`
}

type identityData struct {
	Valid       bool   `json:"valid"`
	Nombres     string `json:"nombres"`
	ApellidoPat string `json:"apellidoPat"`
	ApellidoMat string `json:"apellidoMat"`
}

type replyError struct {
	Message string `json:"message"`
}

// response is the registry's common reply envelope.
type response struct {
	Ok            bool         `json:"ok"`
	Data          identityData `json:"data"`
	Error         *replyError  `json:"error"`
	CorrelationID string       `json:"correlationId"`
}

// Limiter throttles outbound requests. *pkg.DistributedLimiter implements it.
type Limiter interface {
	Wait(ctx context.Context) error
}

type RPCClientConfig struct {
	Logger      *zap.Logger
	Transport   Transport
	Limiter     Limiter // optional
	Timeout     time.Duration
	ReplyPrefix string // private destinations are ReplyPrefix + uuid
}

// RPCClient performs one blocking correlated request/reply per Verify call.
type RPCClient struct {
	logger      *zap.Logger
	transport   Transport
	limiter     Limiter
	timeout     time.Duration
	replyPrefix string
}

func NewRPCClient(cfg RPCClientConfig) *RPCClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReplyPrefix == "" {
		cfg.ReplyPrefix = "reniec.reply."
	}
	return &RPCClient{
		logger:      cfg.Logger,
		transport:   cfg.Transport,
		limiter:     cfg.Limiter,
		timeout:     cfg.Timeout,
		replyPrefix: cfg.ReplyPrefix,
	}
}

func (c *RPCClient) Verify(ctx context.Context, dni string) (Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(err, pkg.ErrRateLimitExceeded) {
				return Result{}, ErrThrottled
			}
			return Result{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	correlationID := uuid.NewString()
	replyTo := c.replyPrefix + uuid.NewString()
	log := c.logger.With(zap.String(pkg.CorrelationId, correlationID))

	listener, err := c.transport.Listen(ctx, replyTo)
	if err != nil {
		return Result{}, c.deadlineOr(ctx, fmt.Errorf("open reply destination: %w", err))
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Warn("verification_listener_close_failed", zap.Error(err))
		}
	}()

	slot := make(chan response, 1)
	go func() {
		for raw := range listener.Messages() {
			var resp response
			if err := json.Unmarshal(raw, &resp); err != nil {
				log.Warn("verification_reply_undecodable", zap.Error(err))
				continue
			}
			if resp.CorrelationID != correlationID {
				log.Debug("verification_reply_ignored", zap.String("got", resp.CorrelationID))
				continue
			}
			select {
			case slot <- resp:
			default:
			}
			return
		}
	}()

	payload, err := json.Marshal(request{Type: verifyIdentityType, Dni: dni, CorrelationID: correlationID, ReplyTo: replyTo})
	if err != nil {
		return Result{}, err
	}
	if err := c.transport.Publish(ctx, payload); err != nil {
		return Result{}, c.deadlineOr(ctx, fmt.Errorf("publish verification request: %w", err))
	}

	select {
	case resp := <-slot:
		if !resp.Ok {
			msg := "VERIFICATION_FAILED"
			if resp.Error != nil && resp.Error.Message != "" {
				msg = resp.Error.Message
			}
			return Result{}, pkg.NewAppError(pkg.ErrIdentityInvalidCode, msg, nil)
		}
		return Result{
			Valid:       resp.Data.Valid,
			Dni:         dni,
			Nombres:     resp.Data.Nombres,
			ApellidoPat: resp.Data.ApellidoPat,
			ApellidoMat: resp.Data.ApellidoMat,
		}, nil
	case <-ctx.Done():
		return Result{}, c.deadlineOr(ctx, ctx.Err())
	}
}

// deadlineOr reports our own timeout as ErrTimeout and anything else unchanged.
func (c *RPCClient) deadlineOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("verification_timeout", zap.Duration("timeout", c.timeout))
		return ErrTimeout
	}
	return err
}
