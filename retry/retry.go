// Package retry classifies remote-call failures and implements bounded
// retry with exponential backoff. Every remote call of this project is
// issued through Do, so retry behavior is uniform across call sites.
package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"

	"go.gridsync.dev/core/metrics"
)

// Class partitions failures into those worth retrying and those which are not.
type Class int

const (
	// Fatal failures are surfaced to the caller immediately.
	Fatal Class = iota
	// Retryable failures (rate limits, transient unavailability) are retried
	// with backoff up to the Policy's attempt bound.
	Retryable
)

// retryableSnippets are matched against lower-cased error text of failures
// which don't carry a structured status code.
var retryableSnippets = []string{
	"quota",
	"rate limit",
	"backenderror",
	"internal",
	"service is currently unavailable",
	"[429]",
	"[503]",
}

// Classify returns the Class of |err|. A googleapi.Error is classified by its
// HTTP code; other errors by matching known transient-failure text. Context
// cancellation is always Fatal.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return Fatal
	}
	if gErr, ok := err.(*googleapi.Error); ok {
		switch gErr.Code {
		case 429, 500, 503:
			return Retryable
		default:
			return Fatal
		}
	}
	var msg = strings.ToLower(err.Error())
	for _, s := range retryableSnippets {
		if strings.Contains(msg, s) {
			return Retryable
		}
	}
	return Fatal
}

// Policy bounds retry behavior of Do.
type Policy struct {
	// Base is the first backoff delay.
	Base time.Duration
	// Max caps the backoff delay.
	Max time.Duration
	// Attempts bounds total tries of the wrapped call.
	Attempts int
	// Jitter, if set, randomizes each delay within [delay/2, delay).
	Jitter bool
}

// DefaultPolicy mirrors the production posture of periodic batch syncs:
// patient enough to ride out per-minute quota exhaustion, bounded enough
// that a wedged remote call fails its unit rather than the whole run.
func DefaultPolicy() Policy {
	return Policy{
		Base:     800 * time.Millisecond,
		Max:      20 * time.Second,
		Attempts: 6,
		Jitter:   true,
	}
}

// Next returns the delay which follows |prev|: doubled, capped at Max,
// and jittered if the Policy says so.
func (p Policy) Next(prev time.Duration) time.Duration {
	var d = prev * 2
	if prev == 0 {
		d = p.Base
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter && d > time.Millisecond {
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)))
	}
	return d
}

// Do invokes |fn| until it succeeds, returns a Fatal error, or the Policy's
// attempts are exhausted, sleeping a growing delay between tries. The last
// observed error is returned. |name| labels retry logging. |fn| is always
// invoked at least once, whatever Attempts says.
func Do(ctx context.Context, p Policy, name string, fn func() error) error {
	var delay time.Duration
	var err error

	var attempts = p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt != attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		} else if Classify(err) != Retryable {
			return err
		}

		delay = p.Next(delay)
		metrics.RetriesTotal.WithLabelValues(name).Inc()
		log.WithFields(log.Fields{
			"op":      name,
			"attempt": attempt,
			"delay":   delay,
			"err":     err,
		}).Debug("retrying transient failure")

		select {
		case <-time.After(delay):
			// Pass.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Sleep pauses for |d|, returning early with the context's error if it is
// cancelled first. A non-positive |d| returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
