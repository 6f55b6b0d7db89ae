package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"topiary.org/internal/fault"
)

// Retrier wraps a Client with per-call timeouts and bounded exponential
// backoff. A call that exhausts its retries surfaces as PlatformUnavailable;
// errors that already carry a terminal fault kind (not found, validation,
// policy denied) pass through immediately without burning any attempts.
type Retrier struct {
	inner       Client
	callTimeout time.Duration
	maxRetries  uint64
	baseWait    time.Duration
}

// NewRetrier wraps inner. Zero values fall back to 10s timeout, 3 retries,
// 250ms initial backoff.
func NewRetrier(inner Client, callTimeout time.Duration, maxRetries int, baseWait time.Duration) *Retrier {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 3
	}
	if baseWait <= 0 {
		baseWait = 250 * time.Millisecond
	}
	return &Retrier{
		inner:       inner,
		callTimeout: callTimeout,
		maxRetries:  uint64(maxRetries),
		baseWait:    baseWait,
	}
}

var _ Client = (*Retrier)(nil)

func (r *Retrier) do(ctx context.Context, opName string, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseWait
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)

	err := backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		if err := op(callCtx); err != nil {
			if isTerminal(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, policy)
	if err != nil {
		if isTerminal(err) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", fault.ErrPlatformUnavailable, opName, err)
	}
	return nil
}

// isTerminal reports whether err already carries a fault kind that retrying
// cannot change. NotFound and validation responses surface immediately.
func isTerminal(err error) bool {
	return errors.Is(err, fault.ErrNotFound) ||
		errors.Is(err, fault.ErrValidation) ||
		errors.Is(err, fault.ErrPolicyDenied)
}

func (r *Retrier) ListTopics(ctx context.Context, category string) ([]TopicSnapshot, error) {
	var out []TopicSnapshot
	err := r.do(ctx, "list topics", func(ctx context.Context) error {
		snaps, err := r.inner.ListTopics(ctx, category)
		if err != nil {
			return err
		}
		out = snaps
		return nil
	})
	return out, err
}

func (r *Retrier) RenameTopic(ctx context.Context, topicID, newName string) error {
	return r.do(ctx, "rename topic "+topicID, func(ctx context.Context) error {
		return r.inner.RenameTopic(ctx, topicID, newName)
	})
}

func (r *Retrier) PinMessage(ctx context.Context, topicID string, card Card) (string, error) {
	var id string
	err := r.do(ctx, "pin message in "+topicID, func(ctx context.Context) error {
		msgID, err := r.inner.PinMessage(ctx, topicID, card)
		if err != nil {
			return err
		}
		id = msgID
		return nil
	})
	return id, err
}

func (r *Retrier) UnpinAll(ctx context.Context, topicID string) error {
	return r.do(ctx, "unpin all in "+topicID, func(ctx context.Context) error {
		return r.inner.UnpinAll(ctx, topicID)
	})
}

func (r *Retrier) SendInteractiveCard(ctx context.Context, topicID string, card Card) (string, error) {
	var id string
	err := r.do(ctx, "send card to "+topicID, func(ctx context.Context) error {
		msgID, err := r.inner.SendInteractiveCard(ctx, topicID, card)
		if err != nil {
			return err
		}
		id = msgID
		return nil
	})
	return id, err
}
