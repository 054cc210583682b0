// Package dispatch orchestrates message sends: a single message to one
// recipient, or a fan-out to every contact resolved for a batch.
//
// The store is the only durable state. The orchestrator persists a message
// document per remote-acknowledged send and nothing else; a send that fails
// before acknowledgment leaves no record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

func New(cfg Config, client Sender, st store.Store, log logx.Logger) *Orchestrator {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		cfg:     cfg,
		client:  client,
		store:   st,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

func (o *Orchestrator) snapshot() (Limits, *rate.Limiter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.Limits, o.limiter
}

// SendOne sends a template to a single, manually entered recipient.
//
// The recipient's profile is ensured remotely (create-or-fetch) before the
// send; a message is never attempted for an unregistered recipient. Errors
// propagate to the caller and no message document is persisted unless the
// remote API acknowledged the send.
func (o *Orchestrator) SendOne(ctx context.Context, templateID, recipientID string, params ContentParams) (store.Document, error) {
	limits, _ := o.snapshot()

	tpl, err := o.loadTemplate(ctx, templateID)
	if err != nil {
		return store.Document{}, err
	}
	content, err := renderContent(tpl, params, limits)
	if err != nil {
		return store.Document{}, err
	}

	code := strings.ToUpper(strings.TrimSpace(recipientID))
	if err := validRecipient(code); err != nil {
		return store.Document{}, err
	}

	profile, err := o.ensureProfile(ctx, code)
	if err != nil {
		return store.Document{}, err
	}
	o.persistContact(ctx, code, profile)

	created, err := o.client.PostMessage(ctx, payloadFor(code, content), nil)
	if err != nil {
		return store.Document{}, fmt.Errorf("send to %s: %w", code, err)
	}

	return o.persistMessage(ctx, templateID, "", code, created.ID, content)
}

// SendBatch fans the rendered content out to every contact resolved for the
// batch at the moment the snapshot query runs. Contacts the worker persists
// afterwards are excluded: dispatch has already started.
//
// Sends race; result order follows the snapshot, not completion. The returned
// error is non-nil when any send failed, even though succeeded sends remain
// persisted (ErrBatchPartialFailure; inspect the results for the split).
func (o *Orchestrator) SendBatch(ctx context.Context, templateID, batchID string, params ContentParams) ([]SendResult, error) {
	limits, limiter := o.snapshot()

	tpl, err := o.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	// Content is identical across all recipients of a batch; render once.
	content, err := renderContent(tpl, params, limits)
	if err != nil {
		return nil, err
	}

	// The committed recipient set: a point-in-time snapshot. An empty
	// snapshot is a vacuously successful dispatch, not an error.
	contacts, err := o.store.FindAll(ctx, store.Query{Type: store.TypeContact, BatchID: batchID})
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		o.log.Info("batch dispatch skipped, no resolved contacts", logx.String("batch", batchID))
		return []SendResult{}, nil
	}

	start := time.Now()
	o.log.Info("batch dispatch started", logx.String("batch", batchID), logx.Int("recipients", len(contacts)))

	results := make([]SendResult, len(contacts))
	var wg sync.WaitGroup
	wg.Add(len(contacts))
	for i, c := range contacts {
		go func(i int, code string) {
			defer wg.Done()
			results[i] = o.sendToContact(ctx, limiter, templateID, batchID, code, content)
		}(i, c.ID)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	fields := []logx.Field{
		logx.String("batch", batchID),
		logx.Int("total", len(results)),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		o.log.Warn("batch dispatch finished with failures", fields...)
		return results, fmt.Errorf("%w: %d of %d sends failed", ErrBatchPartialFailure, failed, len(results))
	}
	o.log.Info("batch dispatch finished", fields...)
	return results, nil
}

func (o *Orchestrator) sendToContact(ctx context.Context, limiter *rate.Limiter, templateID, batchID, code string, content Content) SendResult {
	res := SendResult{RecipientID: code}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			res.Err = err
			return res
		}
	}

	created, err := o.client.PostMessage(ctx, payloadFor(code, content), nil)
	if err != nil {
		o.log.Warn("send failed", logx.String("batch", batchID), logx.String("recipient", code), logx.Err(err))
		res.Err = err
		return res
	}
	res.RemoteID = created.ID

	doc, err := o.persistMessage(ctx, templateID, batchID, code, created.ID, content)
	if err != nil {
		// The remote send went through but the record is missing; surface it
		// so reconciliation can find the gap.
		o.log.Error("message persist failed after remote ack", logx.String("batch", batchID), logx.String("recipient", code), logx.String("remote_id", created.ID), logx.Err(err))
		res.Err = err
		return res
	}
	res.MessageID = doc.ID
	return res
}

// ensureProfile implements create-or-fetch: an unknown recipient is
// registered remotely before any send is attempted.
func (o *Orchestrator) ensureProfile(ctx context.Context, code string) (*api.Profile, error) {
	p, err := o.client.GetProfile(ctx, code, nil)
	if err == nil {
		return p, nil
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.NotFound() {
		return o.client.CreateProfile(ctx, code, nil)
	}
	return nil, fmt.Errorf("profile lookup for %s: %w", code, err)
}

// persistContact records a manually entered recipient without a batch id.
// A contact that already exists is fine; documents are insert-only.
func (o *Orchestrator) persistContact(ctx context.Context, code string, p *api.Profile) {
	doc, err := store.NewDocument(store.TypeContact, code, "", store.Contact{
		FiscalCode:         p.FiscalCode,
		Email:              p.Email,
		PreferredLanguages: p.PreferredLanguages,
		SenderAllowed:      p.SenderAllowed,
	})
	if err == nil {
		_, err = o.store.Insert(ctx, doc)
	}
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		o.log.Warn("contact persist failed", logx.String("code", code), logx.Err(err))
	}
}

func (o *Orchestrator) persistMessage(ctx context.Context, templateID, batchID, code, remoteID string, content Content) (store.Document, error) {
	doc, err := store.NewDocument(store.TypeMessage, "", batchID, store.Message{
		TemplateID:    templateID,
		RecipientID:   code,
		RemoteID:      remoteID,
		Subject:       content.Subject,
		Markdown:      content.Markdown,
		DueDate:       content.DueDate,
		Amount:        content.Amount,
		PaymentNotice: content.PaymentNotice,
	})
	if err != nil {
		return store.Document{}, err
	}
	id, err := o.store.Insert(ctx, doc)
	if err != nil {
		return store.Document{}, err
	}
	doc.ID = id
	return doc, nil
}

func (o *Orchestrator) loadTemplate(ctx context.Context, templateID string) (store.Template, error) {
	doc, err := o.store.GetByID(ctx, templateID)
	if err != nil {
		return store.Template{}, err
	}
	if doc.Type != store.TypeTemplate {
		return store.Template{}, fmt.Errorf("document %s is a %s, not a template", templateID, doc.Type)
	}
	var tpl store.Template
	if err := store.Decode(doc, &tpl); err != nil {
		return store.Template{}, err
	}
	return tpl, nil
}

func payloadFor(code string, c Content) api.MessagePayload {
	p := api.MessagePayload{
		Recipient:     code,
		Subject:       c.Subject,
		Markdown:      c.Markdown,
		DueDate:       c.DueDate,
		PaymentNotice: c.PaymentNotice,
	}
	if c.HasAmount {
		p.Amount = c.Amount
	}
	return p
}
