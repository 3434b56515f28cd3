package board

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs the periodic reload and backup tasks. Both stop together
// and can be started again.
type Scheduler struct {
	board          *Synchronizer
	syncInterval   time.Duration
	backupInterval time.Duration
	backupGate     func() bool
	log            *slog.Logger

	// transition serializes Start, Stop and Toggle; mu guards the fields.
	transition sync.Mutex
	mu         sync.Mutex
	base       context.Context
	cancel     context.CancelFunc
	running    *sync.WaitGroup
}

// NewScheduler builds a scheduler. A non-positive interval disables that
// task; backups run only while gate returns true.
func NewScheduler(s *Synchronizer, syncInterval, backupInterval time.Duration, gate func() bool, log *slog.Logger) *Scheduler {
	if gate == nil {
		gate = func() bool { return false }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		board:          s,
		syncInterval:   syncInterval,
		backupInterval: backupInterval,
		backupGate:     gate,
		log:            log,
	}
}

// Start launches the tasks under ctx. Starting a running scheduler is a no-op.
func (sc *Scheduler) Start(ctx context.Context) {
	sc.transition.Lock()
	defer sc.transition.Unlock()
	sc.mu.Lock()
	sc.base = ctx
	sc.mu.Unlock()
	sc.start()
}

func (sc *Scheduler) start() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancel != nil {
		return
	}
	base := sc.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	// Each run gets its own group so a restart never reuses one still being waited on.
	wg := &sync.WaitGroup{}
	sc.cancel, sc.running = cancel, wg

	if sc.syncInterval > 0 {
		wg.Add(1)
		go sc.loop(ctx, wg, sc.syncInterval, func(ctx context.Context) {
			if err := sc.board.Reload(ctx); err != nil {
				sc.log.Warn("scheduler: periodic reload failed", "error", err)
			}
		})
	}
	if sc.backupInterval > 0 {
		wg.Add(1)
		go sc.loop(ctx, wg, sc.backupInterval, func(ctx context.Context) {
			if !sc.backupGate() {
				return
			}
			res := sc.board.SnapshotBackup(ctx)
			sc.log.Debug("scheduler: periodic backup", "path", res.Path, "stored", res.Stored)
		})
	}
	sc.log.Info("scheduler: started", "sync_interval", sc.syncInterval, "backup_interval", sc.backupInterval)
}

// Stop cancels both tasks and waits for an in-flight run to return.
func (sc *Scheduler) Stop() {
	sc.transition.Lock()
	defer sc.transition.Unlock()
	sc.stop()
}

func (sc *Scheduler) stop() {
	sc.mu.Lock()
	cancel, wg := sc.cancel, sc.running
	sc.cancel, sc.running = nil, nil
	sc.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
	sc.log.Info("scheduler: stopped")
}

func (sc *Scheduler) Running() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cancel != nil
}

// Toggle pauses a running scheduler or resumes a stopped one under the
// context of the last Start. It returns the new running state.
func (sc *Scheduler) Toggle() bool {
	sc.transition.Lock()
	defer sc.transition.Unlock()
	if sc.Running() {
		sc.stop()
		return false
	}
	sc.start()
	return true
}

func (sc *Scheduler) loop(ctx context.Context, wg *sync.WaitGroup, every time.Duration, run func(context.Context)) {
	defer wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}
