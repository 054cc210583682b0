package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

// runStoreTests exercises the Store contract against every driver.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("insert assigns id", func(t *testing.T) {
		st := open(t)
		doc, err := NewDocument(TypeTemplate, "", "", Template{Subject: "hello there", Markdown: "body"})
		require.NoError(t, err)

		id, err := st.Insert(ctx, doc)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := st.GetByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, TypeTemplate, got.Type)

		var tpl Template
		require.NoError(t, Decode(got, &tpl))
		require.Equal(t, "hello there", tpl.Subject)
	})

	t.Run("explicit id and duplicate", func(t *testing.T) {
		st := open(t)
		doc, err := NewDocument(TypeContact, "AAAAAA00A00A000A", "b1", Contact{FiscalCode: "AAAAAA00A00A000A"})
		require.NoError(t, err)

		id, err := st.Insert(ctx, doc)
		require.NoError(t, err)
		require.Equal(t, "AAAAAA00A00A000A", id)

		_, err = st.Insert(ctx, doc)
		require.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("missing id", func(t *testing.T) {
		st := open(t)
		_, err := st.GetByID(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("type is required", func(t *testing.T) {
		st := open(t)
		_, err := st.Insert(ctx, Document{Body: []byte("{}")})
		require.Error(t, err)
	})

	t.Run("find by type and batch", func(t *testing.T) {
		st := open(t)
		seed := []struct{ typ, id, batch string }{
			{TypeContact, "C1AAAA00A00A000A", "b1"},
			{TypeContact, "C2AAAA00A00A000A", "b1"},
			{TypeContact, "C3AAAA00A00A000A", "b2"},
			{TypeMessage, "", "b1"},
		}
		for _, s := range seed {
			doc, err := NewDocument(s.typ, s.id, s.batch, map[string]string{})
			require.NoError(t, err)
			_, err = st.Insert(ctx, doc)
			require.NoError(t, err)
		}

		docs, err := st.FindAll(ctx, Query{Type: TypeContact, BatchID: "b1"})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		// default order is by id
		require.Equal(t, "C1AAAA00A00A000A", docs[0].ID)
		require.Equal(t, "C2AAAA00A00A000A", docs[1].ID)

		docs, err = st.FindAll(ctx, Query{Type: TypeMessage})
		require.NoError(t, err)
		require.Len(t, docs, 1)
	})

	t.Run("sort by created at", func(t *testing.T) {
		st := open(t)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, id := range []string{"newest", "oldest", "middle"} {
			offset := map[string]time.Duration{"oldest": 0, "middle": time.Minute, "newest": time.Hour}[id]
			doc, err := NewDocument(TypeStatus, id, "m1", StatusReport{Channel: "email"})
			require.NoError(t, err, i)
			doc.CreatedAt = base.Add(offset)
			_, err = st.Insert(ctx, doc)
			require.NoError(t, err)
		}

		docs, err := st.FindAll(ctx, Query{Type: TypeStatus, Sort: SortByCreatedAt})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		require.Equal(t, "oldest", docs[0].ID)
		require.Equal(t, "middle", docs[1].ID)
		require.Equal(t, "newest", docs[2].ID)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return newMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		st, err := Open(Config{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "test.db"),
		}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}
