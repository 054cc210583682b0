package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

type fakeStatusAPI struct {
	channels map[string]api.DeliveryState
	calls    int
}

func (f *fakeStatusAPI) MessageStatus(_ context.Context, _ string, _ *api.CallOptions) (*api.MessageStatus, error) {
	f.calls++
	return &api.MessageStatus{Channels: f.channels}, nil
}

func TestRefreshOneInsertsChangedChannels(t *testing.T) {
	st := newTestStore(t)
	seedMessage(t, st, "m1", "")
	doc, err := st.GetByID(context.Background(), "m1")
	require.NoError(t, err)

	remote := &fakeStatusAPI{channels: map[string]api.DeliveryState{
		"email": api.StateSent,
		"push":  api.StateQueued,
	}}
	r := NewRefresher(RefresherConfig{}, remote, st, logx.Nop())

	n, err := r.RefreshOne(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// unchanged remote state inserts nothing on the next poll
	n, err = r.RefreshOne(context.Background(), doc)
	require.NoError(t, err)
	require.Zero(t, n)

	// a state transition yields exactly one new report
	remote.channels["push"] = api.StateSent
	n, err = r.RefreshOne(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reports, err := st.FindAll(context.Background(), store.Query{Type: store.TypeStatus, BatchID: "m1"})
	require.NoError(t, err)
	require.Len(t, reports, 3)
}

func TestRefreshOneSkipsUnsentMessage(t *testing.T) {
	st := newTestStore(t)
	doc, err := store.NewDocument(store.TypeMessage, "m1", "", store.Message{RecipientID: "AAAAAA00A00A000A"})
	require.NoError(t, err)
	_, err = st.Insert(context.Background(), doc)
	require.NoError(t, err)
	doc, err = st.GetByID(context.Background(), "m1")
	require.NoError(t, err)

	remote := &fakeStatusAPI{channels: map[string]api.DeliveryState{"email": api.StateSent}}
	r := NewRefresher(RefresherConfig{}, remote, st, logx.Nop())

	// no remote id yet, nothing to poll
	n, err := r.RefreshOne(context.Background(), doc)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, remote.calls)
}

func TestRefresherDisabled(t *testing.T) {
	st := newTestStore(t)
	r := NewRefresher(RefresherConfig{Enabled: false}, &fakeStatusAPI{}, st, logx.Nop())
	r.Start(context.Background())
	r.Stop(context.Background())
}
