package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yln-platform/sheetstore/internal/codec"
	"github.com/yln-platform/sheetstore/pkg/types"
)

// replayTimeout bounds a single replay attempt against the remote service.
const replayTimeout = 30 * time.Second

// drainLoop is the engine's single background worker. It claims due
// pending writes one at a time and replays them against the remote
// backend. No engine lock is held across a network call; the seq protocol
// in the queue keeps concurrent foreground writes safe instead.
func (e *Engine) drainLoop(ctx context.Context) {
	defer close(e.done)
	e.logger.Info("drain starting",
		"max_attempts", e.cfg.Retry.MaxAttempts, "base", e.cfg.Retry.Base)

	ticker := time.NewTicker(pollInterval(e.cfg.Retry))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("drain stopping")
			return
		case <-ticker.C:
			e.drainDue(ctx)
		}
	}
}

func (e *Engine) drainDue(ctx context.Context) {
	for {
		pw, err := e.local.ClaimDuePending(ctx, time.Now().UTC())
		if err != nil {
			e.logger.Error("claiming pending write", "cause", err)
			return
		}
		if pw == nil {
			return
		}
		e.replay(ctx, *pw)
		if ctx.Err() != nil {
			return
		}
	}
}

// replay pushes one claimed pending write to the remote backend and
// commits its outcome.
func (e *Engine) replay(ctx context.Context, pw types.PendingWrite) {
	attemptCtx, cancel := context.WithTimeout(ctx, replayTimeout)
	err := e.replayOnce(attemptCtx, pw)
	cancel()

	if err == nil {
		if cerr := e.local.CompletePending(ctx, pw.ID, pw.Seq); cerr != nil {
			e.logger.Error("completing pending write", "id", pw.ID, "cause", cerr)
			return
		}
		e.logger.Info("pending write replayed",
			"entity_type", pw.EntityType, "record_id", pw.RecordID,
			"op", pw.Op, "attempts", pw.Attempts+1)
		return
	}

	attempts := pw.Attempts + 1
	if !types.IsRetryable(err) || attempts >= e.cfg.Retry.MaxAttempts {
		e.abandon(ctx, pw, attempts, err)
		return
	}

	next := time.Now().UTC().Add(retryDelay(e.cfg.Retry, attempts, err))
	if rerr := e.local.RequeuePending(ctx, pw.ID, pw.Seq, attempts, next, err.Error()); rerr != nil {
		e.logger.Error("requeueing pending write", "id", pw.ID, "cause", rerr)
		return
	}
	e.logger.Warn("pending write replay failed",
		"entity_type", pw.EntityType, "record_id", pw.RecordID,
		"op", pw.Op, "attempts", attempts, "next_attempt_at", next, "cause", err)
}

// replayOnce performs the remote call for one pending write. Creates and
// updates both replay as an identifier-keyed overwrite: if the row landed
// on an earlier lost acknowledgement the replay overwrites it, and if it
// never landed the update path appends it.
func (e *Engine) replayOnce(ctx context.Context, pw types.PendingWrite) error {
	if pw.Op == types.OpDelete {
		return e.remote.DeleteRow(ctx, pw.EntityType, pw.RecordID)
	}

	schema, err := e.local.Schema(pw.EntityType)
	if err != nil {
		return err
	}
	row, err := codec.Encode(pw.Payload, schema)
	if err != nil {
		return err
	}
	return e.remote.UpdateRow(ctx, pw.EntityType, pw.RecordID, row)
}

func (e *Engine) abandon(ctx context.Context, pw types.PendingWrite, attempts int, cause error) {
	if err := e.local.AbandonPending(ctx, pw.ID, pw.Seq, cause.Error()); err != nil {
		e.logger.Error("abandoning pending write", "id", pw.ID, "cause", err)
		return
	}
	e.logger.Error("pending write abandoned",
		"entity_type", pw.EntityType, "record_id", pw.RecordID,
		"op", pw.Op, "attempts", attempts, "cause", cause)
	if e.alert != nil {
		pw.Status = types.StatusAbandoned
		pw.Attempts = attempts
		pw.LastError = cause.Error()
		e.alert(pw)
	}
}

// retryDelay computes the wait before the given attempt number replays
// again. A server-provided Retry-After hint takes precedence over the
// computed backoff.
func retryDelay(rc types.RetryConfig, attempts int, cause error) time.Duration {
	var rerr *types.RemoteError
	if errors.As(cause, &rerr) && rerr.RetryAfter > 0 {
		return rerr.RetryAfter
	}
	return backoffDelay(rc, attempts)
}

// backoffDelay is the exponential schedule: Base doubling per attempt,
// capped at Ceiling, with Jitter randomization.
func backoffDelay(rc types.RetryConfig, attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.Base
	b.RandomizationFactor = rc.Jitter
	b.Multiplier = 2
	b.MaxInterval = rc.Ceiling
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	if delay > rc.Ceiling {
		delay = rc.Ceiling
	}
	return delay
}

// pollInterval derives how often the drain worker looks for due entries.
// A quarter of the base delay keeps replays prompt without busy-polling.
func pollInterval(rc types.RetryConfig) time.Duration {
	interval := rc.Base / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	return interval
}
