// Package report reads back delivery outcomes: per-channel status reports are
// tallied into the three buckets the console displays.
package report

import (
	"context"
	"fmt"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/store"
)

// Kind selects what a stats entry refers to.
type Kind string

const (
	KindMessage Kind = "message"
	KindBatch   Kind = "batch"
)

// Stats are per-bucket counts across an entry's messages. A message whose
// status has not been reported yet is simply absent from all three.
type Stats struct {
	Processed int `json:"PROCESSED"`
	Errored   int `json:"ERRORED"`
	Queued    int `json:"QUEUED"`
}

// bucket collapses the remote state family into the three display buckets.
// Unknown states fall outside every bucket.
func bucket(state api.DeliveryState) (string, bool) {
	switch state {
	case api.StateProcessed, api.StateSent:
		return "processed", true
	case api.StateErrored, api.StateFailed, api.StateExpired:
		return "errored", true
	case api.StateQueued, api.StateThrottled:
		return "queued", true
	default:
		return "", false
	}
}

type Aggregator struct {
	store store.Store
}

func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// StatsFor tallies the newest status report per (message, channel) for one
// message or for a batch's whole message set. Pure read, no side effects;
// re-invoking without new reports yields identical counts.
func (a *Aggregator) StatsFor(ctx context.Context, kind Kind, id string) (Stats, error) {
	msgIDs, err := a.messageIDs(ctx, kind, id)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, msgID := range msgIDs {
		states, err := latestStates(ctx, a.store, msgID)
		if err != nil {
			return Stats{}, err
		}
		for _, state := range states {
			switch b, ok := bucket(state); {
			case !ok:
			case b == "processed":
				stats.Processed++
			case b == "errored":
				stats.Errored++
			case b == "queued":
				stats.Queued++
			}
		}
	}
	return stats, nil
}

func (a *Aggregator) messageIDs(ctx context.Context, kind Kind, id string) ([]string, error) {
	switch kind {
	case KindMessage:
		doc, err := a.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Type != store.TypeMessage {
			return nil, fmt.Errorf("document %s is a %s, not a message", id, doc.Type)
		}
		return []string{doc.ID}, nil
	case KindBatch:
		docs, err := a.store.FindAll(ctx, store.Query{Type: store.TypeMessage, BatchID: id})
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("unknown stats kind %q", kind)
	}
}

// latestStates returns the newest reported state per channel for a message.
// Status documents are insert-only and indexed by their owning message id.
func latestStates(ctx context.Context, st store.Store, messageID string) (map[string]api.DeliveryState, error) {
	docs, err := st.FindAll(ctx, store.Query{Type: store.TypeStatus, BatchID: messageID, Sort: store.SortByCreatedAt})
	if err != nil {
		return nil, err
	}
	states := map[string]api.DeliveryState{}
	for _, doc := range docs {
		var rep store.StatusReport
		if err := store.Decode(doc, &rep); err != nil {
			return nil, err
		}
		// Docs are sorted oldest first, so the last write per channel wins.
		states[rep.Channel] = api.DeliveryState(rep.State)
	}
	return states, nil
}
