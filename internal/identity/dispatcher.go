package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/linguachat/backend/internal/logging"
	"github.com/linguachat/backend/internal/models"
	"github.com/linguachat/backend/internal/repositories"
)

// Source loads the current copy of a user.
type Source interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

// DispatcherConfig controls the concurrency and retry behaviour of a Dispatcher.
type DispatcherConfig struct {
	QueueSize     int
	Workers       int
	Timeout       time.Duration
	RetryInterval time.Duration
	MaxAttempts   int
	// Source, when set, is read before a parked upsert is replayed so the
	// directory receives the user's current identity rather than the
	// snapshot taken when the upsert first failed.
	Source Source
}

// Dispatcher is a Gateway that hands upserts to a background worker pool so
// request handlers never wait on the directory. Failed upserts are parked on
// a RetryQueue and replayed until MaxAttempts is reached.
type Dispatcher struct {
	gateway Gateway
	retries RetryQueue
	cfg     DispatcherConfig
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	jobs   chan PendingSync
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loop   sync.WaitGroup
	once   sync.Once
}

var (
	errDispatcherClosed = errors.New("identity dispatcher closed")
	errIdentityGone     = errors.New("user no longer exists")
)

// NewDispatcher starts the worker pool and the retry loop.
func NewDispatcher(gateway Gateway, retries RetryQueue, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if retries == nil {
		retries = NewMemoryRetryQueue()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		gateway: gateway,
		retries: retries,
		cfg:     cfg,
		logger:  logger,
		jobs:    make(chan PendingSync, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	d.loop.Add(1)
	go d.retryLoop()

	return d
}

// Upsert queues the identity and returns immediately. A full queue parks the
// identity on the retry queue instead of blocking.
func (d *Dispatcher) Upsert(ctx context.Context, identity Identity) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errDispatcherClosed
	}

	item := PendingSync{Identity: identity, RequestID: logging.RequestIDFromContext(ctx)}
	select {
	case d.jobs <- item:
		return nil
	default:
	}

	logging.FromContext(ctx).Warn("identity sync queue full, deferring", "userId", identity.ID)
	return d.retries.Push(ctx, item)
}

// RetryPending moves parked upserts back onto the work queue until the retry
// queue is empty or the work queue is full. It returns how many were moved.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, errDispatcherClosed
	}

	moved := 0
	for len(d.jobs) < cap(d.jobs) {
		item, ok, err := d.retries.Pop(ctx)
		if err != nil {
			return moved, err
		}
		if !ok {
			return moved, nil
		}
		item.replay = true
		select {
		case d.jobs <- item:
			moved++
		default:
			return moved, d.retries.Push(ctx, item)
		}
	}
	return moved, nil
}

// Shutdown stops the retry loop and waits for queued upserts to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.cancel()
		d.loop.Wait()

		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for item := range d.jobs {
		d.handle(item)
	}
}

func (d *Dispatcher) handle(item PendingSync) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	ctx, job := logging.StartJob(ctx, d.logger, "identity.sync", item.RequestID, "userId", item.Identity.ID, "attempt", item.Attempts+1)
	err := d.deliver(ctx, &item)
	logger := job.Logger()
	if errors.Is(err, errIdentityGone) {
		job.End(nil)
		logger.Info("identity sync dropped", "reason", err)
		return
	}
	job.End(err)
	if err == nil {
		return
	}

	item.Attempts++
	if item.Attempts >= d.cfg.MaxAttempts {
		logger.Error("identity sync abandoned", "attempts", item.Attempts, "error", err)
		return
	}

	logger.Warn("identity sync failed, will retry", "attempts", item.Attempts, "error", err)

	pushCtx, pushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pushCancel()
	if perr := d.retries.Push(pushCtx, item); perr != nil {
		logger.Error("park identity sync", "error", perr)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item *PendingSync) error {
	if item.replay && d.cfg.Source != nil {
		user, err := d.cfg.Source.FindByID(ctx, item.Identity.ID)
		if errors.Is(err, repositories.ErrNotFound) {
			return errIdentityGone
		}
		if err != nil {
			return fmt.Errorf("reload identity: %w", err)
		}
		item.Identity = FromUser(user)
	}
	return d.gateway.Upsert(ctx, item.Identity)
}

func (d *Dispatcher) retryLoop() {
	defer d.loop.Done()

	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RetryPending(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("replay identity syncs", "error", err)
			}
		}
	}
}
