// Package neo4j stores the graph in a Neo4j database. Every node carries a
// generated uid property that serves as its store id.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/saulfrancisco-ruizacevedo/gocypher"
)

const uidProp = "uid"

// runner executes one Cypher statement and buffers its records.
type runner interface {
	run(ctx context.Context, query string, params map[string]any) ([]*neo4jv5.Record, error)
}

type Params struct {
	URI      string `validate:"required"`
	Username string
	Password string
	Database string
	Indexes  []store.Index
	// PurgeBatch caps the nodes deleted per purge transaction.
	PurgeBatch int
}

const defaultPurgeBatch = 10000

type Store struct {
	driver     neo4jv5.DriverWithContext
	db         string
	indexes    []store.Index
	purgeBatch int
}

// New creates the driver. No connection is made until Verify.
func New(params Params) (*Store, error) {
	driver, err := neo4jv5.NewDriverWithContext(
		params.URI,
		neo4jv5.BasicAuth(params.Username, params.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create Neo4j driver: %w", err)
	}
	batch := params.PurgeBatch
	if batch <= 0 {
		batch = defaultPurgeBatch
	}
	return &Store{driver: driver, db: params.Database, indexes: params.Indexes, purgeBatch: batch}, nil
}

// Verify checks connectivity and creates the uid constraints and identity
// key indexes when missing.
func (s *Store) Verify(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	for _, stmt := range schemaStatements(s.indexes) {
		if _, err := s.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("%w: create schema: %w", store.ErrUnavailable, err)
		}
	}
	return nil
}

func (s *Store) run(ctx context.Context, query string, params map[string]any) ([]*neo4jv5.Record, error) {
	res, err := neo4jv5.ExecuteQuery(
		ctx,
		s.driver,
		query,
		params,
		neo4jv5.EagerResultTransformer,
		neo4jv5.ExecuteQueryWithDatabase(s.db),
	)
	if err != nil {
		return nil, classify(err)
	}
	return res.Records, nil
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	session := s.driver.NewSession(ctx, neo4jv5.SessionConfig{
		AccessMode:   neo4jv5.AccessModeWrite,
		DatabaseName: s.db,
	})
	etx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, classify(err)
	}
	return &tx{session: session, etx: etx}, nil
}

// Purge deletes every node with its relationships, PurgeBatch nodes per
// transaction.
func (s *Store) Purge(ctx context.Context) error {
	deleted, err := purge(ctx, s, s.purgeBatch)
	if err != nil {
		return fmt.Errorf("purge graph: %w", err)
	}
	logger.Debug("[Neo4j] Purged graph", "database", s.db, "nodes", deleted)
	return nil
}

const purgeBatchCypher = "MATCH (n) WITH n LIMIT $limit DETACH DELETE n RETURN count(*) AS deleted"

// purge runs bounded deletes until a batch comes back short.
func purge(ctx context.Context, r runner, batch int) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		records, err := r.run(ctx, purgeBatchCypher, map[string]any{"limit": batch})
		if err != nil {
			return total, err
		}
		if len(records) != 1 {
			return total, fmt.Errorf("purge returned %d records", len(records))
		}
		v, _ := records[0].Get("deleted")
		n, ok := v.(int64)
		if !ok {
			return total, fmt.Errorf("purge returned %T for deleted", v)
		}
		total += n
		if n < int64(batch) {
			return total, nil
		}
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// schemaStatements returns the idempotent DDL for the given indexes. Every
// indexed label also gets a uniqueness constraint on uid.
func schemaStatements(indexes []store.Index) []string {
	var out []string
	for _, idx := range indexes {
		lower := strings.ToLower(idx.Label)
		out = append(out, fmt.Sprintf(
			"CREATE CONSTRAINT %s_uid IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			lower, idx.Label, uidProp,
		))
		if len(idx.Props) == 0 {
			continue
		}
		props := make([]string, len(idx.Props))
		for i, p := range idx.Props {
			props[i] = "n." + p
		}
		out = append(out, fmt.Sprintf(
			"CREATE INDEX %s_key IF NOT EXISTS FOR (n:%s) ON (%s)",
			lower, idx.Label, strings.Join(props, ", "),
		))
	}
	return out
}

// classify marks errors the driver considers retryable as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if neo4jv5.IsRetryable(err) || neo4jv5.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

type tx struct {
	session neo4jv5.SessionWithContext
	etx     neo4jv5.ExplicitTransaction
	done    bool
}

func (t *tx) run(ctx context.Context, query string, params map[string]any) ([]*neo4jv5.Record, error) {
	res, err := t.etx.Run(ctx, query, params)
	if err != nil {
		return nil, classify(err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func (t *tx) Lookup(ctx context.Context, label string, match map[string]any) (store.Node, error) {
	return lookup(ctx, t, label, match)
}

func (t *tx) Related(ctx context.Context, ref store.NodeRef, relType string, dir store.Direction) ([]store.Node, error) {
	return related(ctx, t, ref, relType, dir)
}

func (t *tx) CreateNode(ctx context.Context, label string, props map[string]any) (string, error) {
	return createNode(ctx, t, label, props)
}

func (t *tx) CreateEdge(ctx context.Context, relType string, from, to store.NodeRef, props map[string]any) error {
	return createEdge(ctx, t, relType, from, to, props)
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.close(ctx)
	return classify(t.etx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.close(ctx)
	return classify(t.etx.Rollback(ctx))
}

// close ends the session. The transaction is already finished here.
func (t *tx) close(ctx context.Context) {
	if err := t.session.Close(ctx); err != nil {
		logger.Debug("[Neo4j] Failed to close session", "err", err)
	}
}

func lookup(ctx context.Context, r runner, label string, match map[string]any) (store.Node, error) {
	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("n", label).WithProperties(match)).
		Return("n").
		Build()
	if err != nil {
		return store.Node{}, err
	}
	records, err := r.run(ctx, query, params)
	if err != nil {
		return store.Node{}, err
	}
	if len(records) == 0 {
		return store.Node{}, store.ErrNotFound
	}
	if len(records) > 1 {
		return store.Node{}, fmt.Errorf("expected 1 %s node but found %d", label, len(records))
	}
	return nodeFrom(records[0], "n", label)
}

func related(ctx context.Context, r runner, ref store.NodeRef, relType string, dir store.Direction) ([]store.Node, error) {
	qb := gocypher.NewQueryBuilder().
		Match(gocypher.N("n", ref.Label).WithProperties(map[string]any{uidProp: ref.ID}))
	if dir == store.Outgoing {
		qb = qb.Match(gocypher.NRef("n"), gocypher.R("r", relType).To(), gocypher.N("m", ""))
	} else {
		qb = qb.Match(gocypher.N("m", ""), gocypher.R("r", relType).To(), gocypher.NRef("n"))
	}
	query, params, err := qb.Return("m").Build()
	if err != nil {
		return nil, err
	}
	records, err := r.run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]store.Node, 0, len(records))
	for _, rec := range records {
		n, err := nodeFrom(rec, "m", "")
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func createNode(ctx context.Context, r runner, label string, props map[string]any) (string, error) {
	uid, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	stored := store.CloneProps(props)
	stored[uidProp] = uid

	query, params, err := gocypher.NewQueryBuilder().
		Create(gocypher.N("n", label).WithProperties(stored)).
		Return("n").
		Build()
	if err != nil {
		return "", err
	}
	records, err := r.run(ctx, query, params)
	if err != nil {
		return "", err
	}
	if len(records) != 1 {
		return "", fmt.Errorf("create %s node returned %d records", label, len(records))
	}
	return uid, nil
}

func createEdge(ctx context.Context, r runner, relType string, from, to store.NodeRef, props map[string]any) error {
	rel := gocypher.R("r", relType).To().WithProperties(store.CloneProps(props))
	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("a", from.Label).WithProperties(map[string]any{uidProp: from.ID})).
		Match(gocypher.N("b", to.Label).WithProperties(map[string]any{uidProp: to.ID})).
		Create(gocypher.N("a", ""), rel, gocypher.N("b", "")).
		Return("r").
		Build()
	if err != nil {
		return err
	}
	records, err := r.run(ctx, query, params)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: %s edge endpoint %s/%s or %s/%s",
			store.ErrNotFound, relType, from.Label, from.ID, to.Label, to.ID)
	}
	return nil
}

// nodeFrom decodes the node bound to key. The uid property becomes the id
// and is removed from the returned props.
func nodeFrom(rec *neo4jv5.Record, key, label string) (store.Node, error) {
	value, ok := rec.Get(key)
	if !ok {
		return store.Node{}, fmt.Errorf("could not find return value '%s' in query result", key)
	}
	n, ok := value.(neo4jv5.Node)
	if !ok {
		return store.Node{}, fmt.Errorf("return value '%s' is not a node", key)
	}
	uid, ok := n.Props[uidProp].(string)
	if !ok {
		return store.Node{}, fmt.Errorf("node %s has no %s property", n.ElementId, uidProp)
	}
	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		if k == uidProp {
			continue
		}
		props[k] = v
	}
	if label == "" && len(n.Labels) > 0 {
		label = n.Labels[0]
	}
	return store.Node{ID: uid, Label: label, Props: props}, nil
}
