package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openhaul/haulbox/internal/haulsdk"
)

var (
	ErrAuthRequired     = errors.New("upload: authentication required")
	ErrRetriesExhausted = errors.New("upload: chunk retries exhausted")
)

// Ack confirms a chunk was received and stored by the server.
type Ack struct {
	Index    int
	Attempts int
	Complete bool
}

// ChunkTransmitter sends one chunk, absorbing transient failures. A returned
// error is terminal for the chunk and therefore for the session.
type ChunkTransmitter interface {
	Send(ctx context.Context, uploadID string, index int, data []byte) (*Ack, error)
}

// chunkSender is the slice of the SDK the transmitter needs.
type chunkSender interface {
	SendChunk(ctx context.Context, uploadID string, index int, data []byte) (*haulsdk.ChunkAckResponse, error)
}

// TransmitterConfig bounds the retry behavior per chunk.
type TransmitterConfig struct {
	MaxRetries   int           // retries after the first attempt
	RetryWait    time.Duration // initial backoff, doubled per attempt
	RetryMaxWait time.Duration
	SendTimeout  time.Duration // per attempt
}

func DefaultTransmitterConfig() TransmitterConfig {
	return TransmitterConfig{
		MaxRetries:   3,
		RetryWait:    1 * time.Second,
		RetryMaxWait: 5 * time.Second,
		SendTimeout:  30 * time.Second,
	}
}

// HTTPTransmitter sends chunks over the HaulBox server API with exponential
// backoff. Only network/timeout/5xx failures are retried; auth and validation
// failures propagate immediately.
type HTTPTransmitter struct {
	sender chunkSender
	cfg    TransmitterConfig
}

func NewHTTPTransmitter(sender chunkSender, cfg TransmitterConfig) *HTTPTransmitter {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.RetryMaxWait < cfg.RetryWait {
		cfg.RetryMaxWait = cfg.RetryWait
	}
	return &HTTPTransmitter{
		sender: sender,
		cfg:    cfg,
	}
}

func (t *HTTPTransmitter) Send(ctx context.Context, uploadID string, index int, data []byte) (*Ack, error) {
	var lastErr error

	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := t.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			slog.Debug("chunk retry", "upload", uploadID, "chunk", index, "attempt", attempt)
		}

		resp, err := t.sendOnce(ctx, uploadID, index, data)
		if err == nil {
			return &Ack{
				Index:    index,
				Attempts: attempt + 1,
				Complete: resp.Complete,
			}, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if haulsdk.IsAuthError(err) {
			return nil, fmt.Errorf("chunk %d: %w: %w", index, ErrAuthRequired, err)
		}
		if !haulsdk.IsRetryable(err) {
			return nil, fmt.Errorf("chunk %d: %w", index, err)
		}

		lastErr = err
	}

	return nil, fmt.Errorf("chunk %d: %w: %w", index, ErrRetriesExhausted, lastErr)
}

func (t *HTTPTransmitter) sendOnce(ctx context.Context, uploadID string, index int, data []byte) (*haulsdk.ChunkAckResponse, error) {
	sendCtx := ctx
	cancel := func() {}
	if t.cfg.SendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, t.cfg.SendTimeout)
	}
	defer cancel()

	return t.sender.SendChunk(sendCtx, uploadID, index, data)
}

func (t *HTTPTransmitter) backoff(ctx context.Context, attempt int) error {
	wait := t.cfg.RetryWait << (attempt - 1)
	if wait > t.cfg.RetryMaxWait {
		wait = t.cfg.RetryMaxWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
