package transcription

import (
	"context"
	"errors"
	"time"

	"chunk-transcriber/core/models"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls when the breaker opens and how long it stays open
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	Cooldown            time.Duration
}

// BreakerClient short-circuits calls while the upstream service is failing.
// It never retries; an open breaker fails the call immediately.
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps next with a circuit breaker
func NewBreakerClient(next Client, cfg BreakerConfig, logger logrus.FieldLogger) *BreakerClient {
	if cfg.Name == "" {
		cfg.Name = "transcription"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	threshold := cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("transcription breaker state changed")
		},
	})
	return &BreakerClient{next: next, cb: cb}
}

// TranscribeChunk forwards to the wrapped client unless the breaker is open
func (b *BreakerClient) TranscribeChunk(ctx context.Context, path, model, language string) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.TranscribeChunk(ctx, path, model, language)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, &models.TranscriptionServiceError{
				Message: "transcription service unavailable: " + err.Error(),
				Err:     err,
			}
		}
		return Result{}, err
	}
	return out.(Result), nil
}

// State reports the breaker state for metrics and health output
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}
