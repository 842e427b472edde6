package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/lobbygraph/backend/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxReadYourWritesAndCommit(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	id, err := tx.CreateNode(ctx, "Client", map[string]any{"name": "Acme Co"})
	require.NoError(t, err)

	n, err := tx.Lookup(ctx, "Client", map[string]any{"name": "Acme Co"})
	require.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Empty(t, s.Nodes("Client"), "uncommitted node must not be visible outside the tx")

	require.NoError(t, tx.Commit(ctx))
	require.Len(t, s.Nodes("Client"), 1)
	assert.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")
}

func TestTxRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	a, err := tx.CreateNode(ctx, "Client", map[string]any{"name": "Acme Co"})
	require.NoError(t, err)
	b, err := tx.CreateNode(ctx, "Registrant", map[string]any{"registrantId": int64(100)})
	require.NoError(t, err)
	require.NoError(t, tx.CreateEdge(ctx, "ENGAGES",
		store.NodeRef{Label: "Client", ID: a}, store.NodeRef{Label: "Registrant", ID: b}, nil))
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, s.Nodes("Client"))
	assert.Empty(t, s.Nodes("Registrant"))
	assert.Empty(t, s.Edges("ENGAGES"))

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx2.Lookup(ctx, "Client", map[string]any{"name": "Acme Co"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRelatedDirections(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	c, _ := tx.CreateNode(ctx, "Client", map[string]any{"name": "Acme Co"})
	r, _ := tx.CreateNode(ctx, "Registrant", map[string]any{"registrantId": int64(100)})
	cref := store.NodeRef{Label: "Client", ID: c}
	rref := store.NodeRef{Label: "Registrant", ID: r}
	require.NoError(t, tx.CreateEdge(ctx, "ENGAGES", cref, rref, nil))
	require.NoError(t, tx.Commit(ctx))

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	in, err := tx.Related(ctx, rref, "ENGAGES", store.Incoming)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c, in[0].ID)

	out, err := tx.Related(ctx, cref, "ENGAGES", store.Outgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, r, out[0].ID)

	none, err := tx.Related(ctx, rref, "ENGAGES", store.Outgoing)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateEdgeRequiresEndpoints(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	c, _ := tx.CreateNode(ctx, "Client", nil)

	err = tx.CreateEdge(ctx, "ENGAGES",
		store.NodeRef{Label: "Client", ID: c}, store.NodeRef{Label: "Registrant", ID: "missing"}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	s := New(WithFault(func(op Op, kind string) error {
		if op == OpCreateEdge && kind == "ABOUT" {
			return boom
		}
		return nil
	}))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	f, _ := tx.CreateNode(ctx, "Filing", nil)
	i, _ := tx.CreateNode(ctx, "Issue", map[string]any{"code": "TAX"})
	err = tx.CreateEdge(ctx, "ABOUT", store.NodeRef{ID: f}, store.NodeRef{ID: i}, nil)
	assert.ErrorIs(t, err, boom)

	s.SetFault(func(op Op, kind string) error {
		if op == OpVerify {
			return boom
		}
		return nil
	})
	err = s.Verify(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, _ := s.Begin(ctx)
	_, _ = tx.CreateNode(ctx, "Issue", map[string]any{"code": "TAX"})
	require.NoError(t, tx.Commit(ctx))
	require.Len(t, s.Nodes("Issue"), 1)

	require.NoError(t, s.Purge(ctx))
	assert.Empty(t, s.Nodes("Issue"))
}

func TestVerifyAfterClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.Verify(ctx), store.ErrUnavailable)
}
