// Package pgx stores the graph in two PostgreSQL tables, graph_nodes and
// graph_edges, with properties kept as jsonb. Node ids are the decimal form
// of the graph_nodes primary key.
package pgx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lobbygraph/backend/internal/util"
	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	Ping(ctx context.Context) error
}

// querier is the statement side shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

type GraphDBStorage struct {
	conn pgxIConn
	pool *pgxpool.Pool
	// migrateURL is applied by Verify when set.
	migrateURL string
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithMigrations makes Verify apply the embedded migrations to databaseURL.
func WithMigrations(databaseURL string) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.migrateURL = databaseURL
	}
}

// NewGraphDBStorage opens a connection pool for databaseURL.
func NewGraphDBStorage(ctx context.Context, databaseURL string, opts ...GraphDBStorageOption) (*GraphDBStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	s := NewGraphDBStorageWithConnection(pool, opts...)
	s.pool = pool
	return s, nil
}

// NewGraphDBStorageWithConnection wraps an existing connection or pool. The
// caller keeps ownership of conn.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Pool returns the owned connection pool, nil when the storage wraps a
// caller-provided connection.
func (s *GraphDBStorage) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *GraphDBStorage) Verify(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	if s.migrateURL != "" {
		if err := Migrate(s.migrateURL); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
	}
	return nil
}

func (s *GraphDBStorage) Begin(ctx context.Context) (store.Tx, error) {
	t, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &tx{q: t, end: t}, nil
}

func (s *GraphDBStorage) Purge(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, purgeSQL); err != nil {
		return fmt.Errorf("purge graph: %w", classify(err))
	}
	logger.Debug("[Postgres] Purged graph")
	return nil
}

func (s *GraphDBStorage) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ender finishes a transaction. pgx.Tx satisfies it.
type ender interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type tx struct {
	q    querier
	end  ender
	done bool
}

func (t *tx) Lookup(ctx context.Context, label string, match map[string]any) (store.Node, error) {
	filter, err := encodeProps(match)
	if err != nil {
		return store.Node{}, err
	}
	var (
		id    int64
		raw   []byte
		total int64
	)
	err = t.q.QueryRow(ctx, lookupSQL, label, filter).Scan(&id, &raw, &total)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return store.Node{}, store.ErrNotFound
	}
	if err != nil {
		return store.Node{}, classify(err)
	}
	if total > 1 {
		return store.Node{}, fmt.Errorf("expected 1 %s node but found %d", label, total)
	}
	props, err := decodeProps(raw)
	if err != nil {
		return store.Node{}, err
	}
	return store.Node{ID: formatID(id), Label: label, Props: props}, nil
}

func (t *tx) Related(ctx context.Context, ref store.NodeRef, relType string, dir store.Direction) ([]store.Node, error) {
	id, err := parseID(ref)
	if err != nil {
		return nil, err
	}
	query := relatedIncomingSQL
	if dir == store.Outgoing {
		query = relatedOutgoingSQL
	}
	var raw []byte
	if err := t.q.QueryRow(ctx, query, id, relType).Scan(&raw); err != nil {
		return nil, classify(err)
	}
	var rows []struct {
		ID    int64           `json:"id"`
		Label string          `json:"label"`
		Props json.RawMessage `json:"props"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode related nodes: %w", err)
	}
	out := make([]store.Node, 0, len(rows))
	for _, r := range rows {
		props, err := decodeProps(r.Props)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Node{ID: formatID(r.ID), Label: r.Label, Props: props})
	}
	return out, nil
}

func (t *tx) CreateNode(ctx context.Context, label string, props map[string]any) (string, error) {
	encoded, err := encodeProps(util.SanitizePostgresProps(store.CloneProps(props)))
	if err != nil {
		return "", err
	}
	var id int64
	if err := t.q.QueryRow(ctx, insertNodeSQL, label, encoded).Scan(&id); err != nil {
		return "", classify(err)
	}
	return formatID(id), nil
}

func (t *tx) CreateEdge(ctx context.Context, relType string, from, to store.NodeRef, props map[string]any) error {
	fromID, err := parseID(from)
	if err != nil {
		return err
	}
	toID, err := parseID(to)
	if err != nil {
		return err
	}
	encoded, err := encodeProps(util.SanitizePostgresProps(store.CloneProps(props)))
	if err != nil {
		return err
	}
	if _, err := t.q.Exec(ctx, insertEdgeSQL, relType, fromID, toID, encoded); err != nil {
		return classify(err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return pgxv5.ErrTxClosed
	}
	t.done = true
	return classify(t.end.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.end.Rollback(ctx)
	if errors.Is(err, pgxv5.ErrTxClosed) {
		return nil
	}
	return classify(err)
}

// encodeProps marshals props for a jsonb parameter. Nil and empty maps
// encode as an empty object.
func encodeProps(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode props: %w", err)
	}
	return string(b), nil
}

// decodeProps unmarshals jsonb props. Integral numbers come back as int64,
// others as float64.
func decodeProps(raw []byte) (map[string]any, error) {
	props := make(map[string]any)
	if len(raw) == 0 {
		return props, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("decode props: %w", err)
	}
	for k, v := range props {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			props[k] = i
			continue
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("decode prop %s: %w", k, err)
		}
		props[k] = f
	}
	return props, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(ref store.NodeRef) (int64, error) {
	id, err := strconv.ParseInt(ref.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s id %q", store.ErrNotFound, ref.Label, ref.ID)
	}
	return id, nil
}

// classify maps PostgreSQL failures onto the store sentinels. Connection
// loss, serialization failures and deadlocks are transient; a foreign key
// violation means an edge endpoint does not exist.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23503":
			return fmt.Errorf("%w: %w", store.ErrNotFound, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

const lookupSQL = `
SELECT id, props, count(*) OVER ()
FROM graph_nodes
WHERE label = $1 AND props @> $2::jsonb
ORDER BY id
LIMIT 1;
`

const relatedIncomingSQL = `
SELECT COALESCE(jsonb_agg(jsonb_build_object('id', n.id, 'label', n.label, 'props', n.props) ORDER BY n.id), '[]'::jsonb)
FROM graph_edges e
JOIN graph_nodes n ON n.id = e.from_id
WHERE e.to_id = $1 AND e.rel_type = $2;
`

const relatedOutgoingSQL = `
SELECT COALESCE(jsonb_agg(jsonb_build_object('id', n.id, 'label', n.label, 'props', n.props) ORDER BY n.id), '[]'::jsonb)
FROM graph_edges e
JOIN graph_nodes n ON n.id = e.to_id
WHERE e.from_id = $1 AND e.rel_type = $2;
`

const insertNodeSQL = `
INSERT INTO graph_nodes (label, props)
VALUES ($1, $2::jsonb)
RETURNING id;
`

const insertEdgeSQL = `
INSERT INTO graph_edges (rel_type, from_id, to_id, props)
VALUES ($1, $2, $3, $4::jsonb);
`

const purgeSQL = `TRUNCATE graph_edges, graph_nodes RESTART IDENTITY;`
