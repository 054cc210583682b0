package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	return st
}

func seedMessage(t *testing.T, st store.Store, id, batchID string) {
	t.Helper()
	doc, err := store.NewDocument(store.TypeMessage, id, batchID, store.Message{
		RecipientID: "AAAAAA00A00A000A",
		RemoteID:    "remote-" + id,
	})
	require.NoError(t, err)
	_, err = st.Insert(context.Background(), doc)
	require.NoError(t, err)
}

func seedReport(t *testing.T, st store.Store, messageID, channel, state string, at time.Time) {
	t.Helper()
	doc, err := store.NewDocument(store.TypeStatus, "", messageID, store.StatusReport{
		MessageID: messageID,
		Channel:   channel,
		State:     state,
	})
	require.NoError(t, err)
	doc.CreatedAt = at
	_, err = st.Insert(context.Background(), doc)
	require.NoError(t, err)
}

func TestBucketMapping(t *testing.T) {
	cases := map[api.DeliveryState]string{
		api.StateProcessed: "processed",
		api.StateSent:      "processed",
		api.StateErrored:   "errored",
		api.StateFailed:    "errored",
		api.StateExpired:   "errored",
		api.StateQueued:    "queued",
		api.StateThrottled: "queued",
	}
	for state, want := range cases {
		got, ok := bucket(state)
		require.True(t, ok, state)
		require.Equal(t, want, got, state)
	}
	_, ok := bucket("SOMETHING_ELSE")
	require.False(t, ok)
}

func TestStatsForMessage(t *testing.T) {
	st := newTestStore(t)
	seedMessage(t, st, "m1", "")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedReport(t, st, "m1", "email", "SENT", base)
	seedReport(t, st, "m1", "push", "THROTTLED", base)

	agg := NewAggregator(st)
	stats, err := agg.StatsFor(context.Background(), KindMessage, "m1")
	require.NoError(t, err)
	require.Equal(t, Stats{Processed: 1, Queued: 1}, stats)
}

func TestStatsNewestReportWins(t *testing.T) {
	st := newTestStore(t)
	seedMessage(t, st, "m1", "")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedReport(t, st, "m1", "email", "THROTTLED", base)
	seedReport(t, st, "m1", "email", "SENT", base.Add(time.Minute))

	agg := NewAggregator(st)
	stats, err := agg.StatsFor(context.Background(), KindMessage, "m1")
	require.NoError(t, err)
	require.Equal(t, Stats{Processed: 1}, stats)
}

func TestStatsForBatch(t *testing.T) {
	st := newTestStore(t)
	seedMessage(t, st, "m1", "batch-1")
	seedMessage(t, st, "m2", "batch-1")
	seedMessage(t, st, "m3", "other-batch")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedReport(t, st, "m1", "email", "SENT", base)
	seedReport(t, st, "m2", "email", "FAILED", base)
	seedReport(t, st, "m3", "email", "SENT", base)

	agg := NewAggregator(st)
	stats, err := agg.StatsFor(context.Background(), KindBatch, "batch-1")
	require.NoError(t, err)
	require.Equal(t, Stats{Processed: 1, Errored: 1}, stats)
}

func TestStatsUnreportedMessageAbsent(t *testing.T) {
	st := newTestStore(t)
	seedMessage(t, st, "m1", "batch-1")

	agg := NewAggregator(st)
	stats, err := agg.StatsFor(context.Background(), KindBatch, "batch-1")
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
}

func TestStatsIdempotent(t *testing.T) {
	st := newTestStore(t)
	seedMessage(t, st, "m1", "")
	seedReport(t, st, "m1", "email", "SENT", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	agg := NewAggregator(st)
	first, err := agg.StatsFor(context.Background(), KindMessage, "m1")
	require.NoError(t, err)
	second, err := agg.StatsFor(context.Background(), KindMessage, "m1")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestStatsWrongKind(t *testing.T) {
	st := newTestStore(t)
	agg := NewAggregator(st)
	_, err := agg.StatsFor(context.Background(), Kind("bogus"), "m1")
	require.Error(t, err)

	_, err = agg.StatsFor(context.Background(), KindMessage, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
