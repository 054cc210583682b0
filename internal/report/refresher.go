package report

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

// StatusAPI is the slice of the API client the refresher needs.
type StatusAPI interface {
	MessageStatus(ctx context.Context, remoteID string, opts *api.CallOptions) (*api.MessageStatus, error)
}

type RefresherConfig struct {
	Enabled bool
	// Spec is a cron spec; seconds field optional. Defaults to "@every 1m".
	Spec string
}

// Refresher periodically polls the remote API for delivery status and appends
// a status document whenever a channel's state changed. The orchestrator
// never writes status itself; this poller is the only producer, and the
// Aggregator stays a pure read.
type Refresher struct {
	mu sync.Mutex

	cfg    RefresherConfig
	client StatusAPI
	store  store.Store
	log    logx.Logger

	c       *cron.Cron
	parser  cron.Parser
	running atomic.Bool
}

func NewRefresher(cfg RefresherConfig, client StatusAPI, st store.Store, log logx.Logger) *Refresher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Refresher{
		cfg:    cfg,
		client: client,
		store:  st,
		log:    log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cfg.Enabled || r.c != nil {
		return
	}

	spec := r.cfg.Spec
	if spec == "" {
		spec = "@every 1m"
	}

	c := cron.New(cron.WithParser(r.parser))
	_, err := c.AddFunc(spec, func() { r.refresh(ctx) })
	if err != nil {
		r.log.Error("invalid refresh spec", logx.String("spec", spec), logx.Err(err))
		return
	}
	c.Start()
	r.c = c
	r.log.Info("service started", logx.String("spec", spec))
}

func (r *Refresher) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("service stopped")
}

// refresh walks every persisted message once. Overlapping ticks are skipped
// rather than queued.
func (r *Refresher) refresh(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	defer r.running.Store(false)

	start := time.Now()
	msgs, err := r.store.FindAll(ctx, store.Query{Type: store.TypeMessage})
	if err != nil {
		r.log.Warn("status refresh: message scan failed", logx.Err(err))
		return
	}

	updated := 0
	for _, doc := range msgs {
		if ctx.Err() != nil {
			return
		}
		n, err := r.RefreshOne(ctx, doc)
		if err != nil {
			r.log.Debug("status refresh skipped", logx.String("message", doc.ID), logx.Err(err))
			continue
		}
		updated += n
	}
	if updated > 0 {
		r.log.Info("status refresh finished", logx.Int("messages", len(msgs)), logx.Int("updates", updated), logx.Duration("dur", time.Since(start)))
	} else {
		r.log.Debug("status refresh finished", logx.Int("messages", len(msgs)), logx.Duration("dur", time.Since(start)))
	}
}

// RefreshOne polls one message and appends a report per changed channel.
// Returns how many reports were inserted.
func (r *Refresher) RefreshOne(ctx context.Context, doc store.Document) (int, error) {
	var msg store.Message
	if err := store.Decode(doc, &msg); err != nil {
		return 0, err
	}
	if msg.RemoteID == "" {
		return 0, nil
	}

	remote, err := r.client.MessageStatus(ctx, msg.RemoteID, nil)
	if err != nil {
		return 0, err
	}

	current, err := latestStates(ctx, r.store, doc.ID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for channel, state := range remote.Channels {
		if current[channel] == state {
			continue
		}
		rep, err := store.NewDocument(store.TypeStatus, "", doc.ID, store.StatusReport{
			MessageID:  doc.ID,
			Channel:    channel,
			State:      string(state),
			ReportedAt: time.Now(),
		})
		if err != nil {
			return inserted, err
		}
		if _, err := r.store.Insert(ctx, rep); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
