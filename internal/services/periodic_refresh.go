package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// PassRunner executes one pass
type PassRunner interface {
	RunOnce(ctx context.Context) (*Report, error)
}

// PeriodicRefreshService runs a pass immediately and then on every tick. Passes run on a
// single goroutine so they never overlap; ticks that arrive during a pass are dropped.
type PeriodicRefreshService struct {
	runner   PassRunner
	interval time.Duration
	timeout  time.Duration

	mutex    sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewPeriodicRefreshService creates a new periodic refresh service. A zero timeout leaves
// passes bounded only by the parent context.
func NewPeriodicRefreshService(runner PassRunner, interval, timeout time.Duration) *PeriodicRefreshService {
	return &PeriodicRefreshService{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
	}
}

// StartPeriodicRefresh starts the background loop
func (p *PeriodicRefreshService) StartPeriodicRefresh(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	logging.Infow(ctx, "Periodic refresh: starting", "interval", p.interval.String())

	go p.refreshLoop(ctx, p.stopChan, p.done)

	return nil
}

// Stop ends the loop and waits for a running pass to return
func (p *PeriodicRefreshService) Stop() {
	p.mutex.Lock()
	if !p.running {
		p.mutex.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mutex.Unlock()

	<-done
}

// Wait blocks until the loop has ended
func (p *PeriodicRefreshService) Wait() {
	p.mutex.Lock()
	done := p.done
	p.mutex.Unlock()

	if done != nil {
		<-done
	}
}

func (p *PeriodicRefreshService) refreshLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		p.mutex.Lock()
		p.running = false
		p.mutex.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Periodic refresh: stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "Periodic refresh: stopping due to stop signal")
			return
		case <-ticker.C:
			p.runPass(ctx)
		}
	}
}

// runPass executes one pass, recovering from panics so the loop keeps going
func (p *PeriodicRefreshService) runPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Periodic refresh: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	passCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	if _, err := p.runner.RunOnce(passCtx); err != nil {
		logging.Errorw(ctx, "Periodic refresh: pass failed", "error", err, "duration", time.Since(start).String())
		return
	}
	logging.Debugw(ctx, "Periodic refresh: pass succeeded", "duration", time.Since(start).String())
}

// IsRunning returns whether the loop is active
func (p *PeriodicRefreshService) IsRunning() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.running
}
