/*
Copyright 2026 The Checkout Authors
SPDX-License-Identifier: Apache-2.0
*/

// Package retry runs network operations with jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	// 0 means do not retry at all.
	MaxRetries int
	// BaseBackoff is the wait before the first retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
	// MaxJitter is the maximum random jitter added to each wait.
	MaxJitter time.Duration
}

// Validate checks that the configuration has valid values.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.BaseBackoff < 0 {
		return errors.New("base backoff cannot be negative")
	}
	if c.MaxBackoff < 0 {
		return errors.New("max backoff cannot be negative")
	}
	if c.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// DefaultConfig makes three attempts in total, waiting 10 to 20 seconds
// between them.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  2,
		BaseBackoff: 10 * time.Second,
		MaxBackoff:  20 * time.Second,
		MaxJitter:   10 * time.Second,
	}
}

// NoRetry makes a single attempt.
func NoRetry() Config {
	return Config{}
}

// Always treats every error as retryable.
func Always(err error) bool {
	return err != nil
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted.
func Do(ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func() error) error {
	_, err := WithBackoff(ctx, cfg, operation, isRetryable, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// WithBackoff calls fn up to MaxRetries+1 times, sleeping between attempts.
// An error isRetryable rejects is returned as is.
func WithBackoff[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	attempts := cfg.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		result, err := fn()
		switch {
		case err == nil:
			return result, nil
		case !isRetryable(err):
			return result, err
		case attempt == attempts && cfg.MaxRetries == 0:
			return result, err
		case attempt == attempts:
			return result, fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, err)
		}

		wait := cfg.delay(attempt)
		clog.FromContext(ctx).Warnf("%s failed (attempt %d of %d), trying again in %s: %v",
			operation, attempt, attempts, wait.Round(time.Millisecond), err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}

// delay is the wait after the given failed attempt, counting from 1. It
// doubles from BaseBackoff, adds up to MaxJitter, and never exceeds
// MaxBackoff unless BaseBackoff alone does.
func (c Config) delay(attempt int) time.Duration {
	shift := attempt - 1
	d := c.BaseBackoff << shift
	if shift >= 63 || d>>shift != c.BaseBackoff || d > c.MaxBackoff {
		d = max(c.MaxBackoff, c.BaseBackoff)
	}
	if c.MaxJitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(c.MaxJitter))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return min(d, max(c.MaxBackoff, c.BaseBackoff))
}
