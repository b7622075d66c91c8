package tabular

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cyclecount/internal/logging"
)

// Backend is the remote document store: whole worksheets in, whole
// worksheets out. Load returns ErrTableNotFound for a missing worksheet.
type Backend interface {
	Load(ctx context.Context, table string) (Table, error)
	Replace(ctx context.Context, table string, data Table) error
}

type Options struct {
	Cache       Cache
	Locker      Locker
	Limiter     *RateLimiter
	Logger      *zap.Logger
	MaxAttempts int
}

// Adapter is the only way the rest of the program touches the store. It
// sanitizes outgoing cells, throttles requests, caches reads, serializes
// writers and classifies failures.
type Adapter struct {
	backend     Backend
	cache       Cache
	locker      Locker
	limiter     *RateLimiter
	log         *zap.Logger
	maxAttempts int
}

func NewAdapter(backend Backend, opts Options) *Adapter {
	a := &Adapter{
		backend:     backend,
		cache:       opts.Cache,
		locker:      opts.Locker,
		limiter:     opts.Limiter,
		log:         logging.OrNop(opts.Logger).Named("tabular"),
		maxAttempts: opts.MaxAttempts,
	}
	if a.cache == nil {
		a.cache = noCache{}
	}
	if a.locker == nil {
		a.locker = NewLocalLocker()
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = 3
	}
	return a
}

// Read returns the table, served from cache when fresh. A missing or empty
// table is an empty result; transport failures are returned so that callers
// never rewrite a table they could not read.
func (a *Adapter) Read(ctx context.Context, table string) (Table, error) {
	if t, ok := a.cache.Get(ctx, table); ok {
		return t, nil
	}
	t, err := a.load(ctx, table)
	if err != nil {
		return Table{}, err
	}
	a.cache.Set(ctx, table, t)
	return t.Clone(), nil
}

// Write replaces the whole table.
func (a *Adapter) Write(ctx context.Context, table string, data Table) Result {
	unlock, err := a.locker.Lock(ctx, table)
	if err != nil {
		return a.failure("write", table, err)
	}
	defer unlock()
	return a.replace(ctx, table, data)
}

// Append adds rows after the existing ones. The store cannot append natively,
// so this is read, column union, concatenate, write.
func (a *Adapter) Append(ctx context.Context, table string, rows Table) Result {
	res := a.Update(ctx, table, func(current Table) (Table, error) {
		return Concat(current, rows), nil
	})
	if res.OK {
		res.Rows = rows.Len()
		res.Message = fmt.Sprintf("%d rows appended to %s", rows.Len(), table)
	}
	return res
}

// Update runs fn over a fresh copy of the table and writes its result. The
// table is re-read right before the write; if another writer changed it in
// between, fn is replayed on the new content up to MaxAttempts times.
// Returning ErrNoChange from fn skips the write.
func (a *Adapter) Update(ctx context.Context, table string, fn func(Table) (Table, error)) Result {
	unlock, err := a.locker.Lock(ctx, table)
	if err != nil {
		return a.failure("update", table, err)
	}
	defer unlock()

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		current, err := a.load(ctx, table)
		if err != nil {
			return a.failure("update", table, err)
		}
		seen := Fingerprint(current)

		next, err := fn(current.Clone())
		if errors.Is(err, ErrNoChange) {
			return Result{OK: true, Message: "no changes"}
		}
		if err != nil {
			return Result{Message: err.Error(), Err: err}
		}

		latest, err := a.load(ctx, table)
		if err != nil {
			return a.failure("update", table, err)
		}
		if Fingerprint(latest) != seen {
			a.log.Warn("table changed during update, replaying merge",
				zap.String("table", table), zap.Int("attempt", attempt))
			continue
		}
		return a.replace(ctx, table, next)
	}

	msg := fmt.Sprintf("%s was modified by another user while saving; reload and submit again", table)
	a.log.Warn("update gave up after concurrent modifications", zap.String("table", table), zap.Int("attempts", a.maxAttempts))
	return Result{Conflict: true, Retryable: true, Message: msg}
}

func (a *Adapter) load(ctx context.Context, table string) (Table, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return Table{}, err
	}
	t, err := a.backend.Load(ctx, table)
	if errors.Is(err, ErrTableNotFound) {
		return Table{}, nil
	}
	if err != nil {
		a.log.Warn("read failed", zap.String("table", table), zap.Error(err))
		return Table{}, fmt.Errorf("read %s: %w", table, err)
	}
	return t, nil
}

func (a *Adapter) replace(ctx context.Context, table string, data Table) Result {
	clean := Sanitize(data)
	if err := a.limiter.Wait(ctx); err != nil {
		return a.failure("write", table, err)
	}
	err := a.backend.Replace(ctx, table, clean)
	// A failed replace may have cleared the sheet already.
	if cerr := a.cache.Invalidate(ctx, table); cerr != nil {
		a.log.Warn("cache invalidation failed, readers may see the previous rows until it expires",
			zap.String("table", table), zap.Error(cerr))
	}
	if err != nil {
		return a.failure("write", table, err)
	}
	a.log.Debug("table written", zap.String("table", table), zap.Int("rows", clean.Len()))
	return Result{OK: true, Rows: clean.Len(), Message: fmt.Sprintf("%d rows written to %s", clean.Len(), table)}
}

func (a *Adapter) failure(op, table string, err error) Result {
	if IsRetryable(err) {
		a.log.Warn("store busy", zap.String("op", op), zap.String("table", table), zap.Error(err))
		return Result{
			Retryable: true,
			Message:   fmt.Sprintf("the spreadsheet service is busy (%v); wait a minute and submit again", err),
			Err:       err,
		}
	}
	a.log.Error("store failure", zap.String("op", op), zap.String("table", table), zap.Error(err))
	return Result{Message: fmt.Sprintf("%s %s failed: %v", op, table, err), Err: err}
}
