package extraction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// CleanupPool drops the tables of released contexts on a bounded number of
// background goroutines.
type CleanupPool struct {
	db      sqldb.DBTX
	sem     *semaphore.Weighted
	retries int
	backoff time.Duration

	wg sync.WaitGroup
}

// NewCleanupPool creates a pool running at most workers drops at once.
// Transient failures are retried up to retries times with a linear backoff.
func NewCleanupPool(db sqldb.DBTX, workers, retries int, backoff time.Duration) *CleanupPool {
	if workers <= 0 {
		workers = 1
	}
	if retries < 0 {
		retries = 0
	}
	return &CleanupPool{
		db:      db,
		sem:     semaphore.NewWeighted(int64(workers)),
		retries: retries,
		backoff: backoff,
	}
}

// CleanupHandle tracks one submitted cleanup.
type CleanupHandle struct {
	done    chan struct{}
	err     error
	dropped []string
}

func completedHandle() *CleanupHandle {
	h := &CleanupHandle{done: make(chan struct{})}
	close(h.done)
	return h
}

// Done is closed when the cleanup finished.
func (h *CleanupHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the cleanup finished or ctx is done. It returns the
// errors of tables that could not be dropped after all retries.
func (h *CleanupHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the tables the cleanup handled. Only valid after Done.
func (h *CleanupHandle) Dropped() []string {
	<-h.done
	return h.dropped
}

// Submit schedules the release of ectx and of the source context it was
// computed from. Persistent tables are never dropped. Submitting the same
// context again returns an already completed handle.
func (p *CleanupPool) Submit(ectx *Context) *CleanupHandle {
	var tables []string
	for c := ectx; c != nil; {
		drop, source := c.detachCleanable()
		tables = append(tables, drop...)
		c = source
	}
	if len(tables) == 0 {
		return completedHandle()
	}

	h := &CleanupHandle{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(h.done)
		h.dropped, h.err = p.dropAll(tables)
	}()
	return h
}

func (p *CleanupPool) dropAll(tables []string) ([]string, error) {
	ctx := context.Background()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	var (
		dropped []string
		errs    error
	)
	for _, table := range tables {
		if err := p.drop(ctx, table); err != nil {
			slog.Error("cleanup failed", "table", table, "error", err)
			errs = errors.CombineErrors(errs, err)
			continue
		}
		dropped = append(dropped, table)
	}
	slog.Debug("cleanup done", "dropped", len(dropped), "failed", len(tables)-len(dropped))
	return dropped, errs
}

func (p *CleanupPool) drop(ctx context.Context, table string) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = sqldb.DropTable(ctx, p.db, table)
		if err == nil || sqldb.IsUndefinedTable(err) {
			return nil
		}
		if attempt >= p.retries || !sqldb.IsTransient(err) {
			return errors.Wrapf(err, "drop %s after %d attempts", table, attempt+1)
		}
		time.Sleep(p.backoff * time.Duration(attempt+1))
	}
}

// Wait blocks until every submitted cleanup finished or ctx is done.
func (p *CleanupPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
