// Package profile resolves raw recipient identifiers into contact documents,
// off the request path of the caller that submitted them.
//
// A resolution job is fire-and-forget: the submitter gets a batch id back
// immediately and discovers progress by re-querying the store. Failures
// resolving one recipient never abort the rest of the list.
package profile

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/teamdigitale/italia-messages-web/internal/eventbus"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

func New(cfg Config, client Resolver, st store.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		client: client,
		store:  st,
		bus:    bus,
		log:    log,
		queue:  make(chan Job, cfg.QueueSize),
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Note: live pool resizing is out of scope; workers pick the new config
	// up on the next Start().
	s.cfg.Workers = cfg.Workers
}

// Enqueue submits a resolution job. Non-blocking: a full queue is an error
// the caller can surface instead of stalling the request path.
func (s *Service) Enqueue(j Job) error {
	select {
	case s.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}

	// keep queue across restarts (jobs remain pending)
	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in profile worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.log.Debug("worker started", logx.Int("worker", idx))
			s.worker(runCtx, stopCh, queue)
			s.log.Debug("worker stopped", logx.Int("worker", idx))
		}()
	}

	s.log.Info("service started", logx.Int("workers", workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// ResolvedCount reports how many contacts currently exist for a batch.
// Callers compare it against the submitted list length to detect incomplete
// batches; there is no per-recipient failure record in the store.
func (s *Service) ResolvedCount(ctx context.Context, batchID string) (int, error) {
	docs, err := s.store.FindAll(ctx, store.Query{Type: store.TypeContact, BatchID: batchID})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
