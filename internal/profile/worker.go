package profile

import (
	"context"
	"strings"
	"time"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/eventbus"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan Job) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j Job) {
	start := time.Now()
	s.log.Info("resolution job started", logx.String("batch", j.BatchID), logx.Int("total", len(j.Recipients)))

	var opts *api.CallOptions
	if strings.TrimSpace(j.BaseURL) != "" {
		opts = &api.CallOptions{BaseURL: j.BaseURL}
	}

	res := JobResult{BatchID: j.BatchID, Total: len(j.Recipients)}
	for _, raw := range j.Recipients {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			res.Total--
			continue
		}
		if err := s.resolveOne(ctx, j.BatchID, code, opts); err != nil {
			// Fail-soft: skip and continue. The incomplete batch shows up
			// only as a missing contact.
			res.Failed++
			s.log.Debug("recipient skipped", logx.String("batch", j.BatchID), logx.String("code", code), logx.Err(err))
			s.publish(eventbus.EventProfileFailed, RecipientResult{BatchID: j.BatchID, FiscalCode: code, Error: err.Error()})
			continue
		}
		res.Resolved++
		s.publish(eventbus.EventProfileResolved, RecipientResult{BatchID: j.BatchID, FiscalCode: code})
	}

	// Completion is a UI convenience, not a correctness signal.
	s.publish(eventbus.EventBatchResolved, res)

	fields := []logx.Field{
		logx.String("batch", j.BatchID),
		logx.Int("total", res.Total),
		logx.Int("resolved", res.Resolved),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if res.Failed > 0 {
		s.log.Warn("resolution job finished with failures", fields...)
	} else {
		s.log.Info("resolution job finished", fields...)
	}
}

func (s *Service) resolveOne(ctx context.Context, batchID, code string, opts *api.CallOptions) error {
	p, err := s.client.GetProfile(ctx, code, opts)
	if err != nil {
		return err
	}

	doc, err := store.NewDocument(store.TypeContact, code, batchID, store.Contact{
		FiscalCode:         p.FiscalCode,
		Email:              p.Email,
		PreferredLanguages: p.PreferredLanguages,
		SenderAllowed:      p.SenderAllowed,
	})
	if err != nil {
		return err
	}
	_, err = s.store.Insert(ctx, doc)
	return err
}
