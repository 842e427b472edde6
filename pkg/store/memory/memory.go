// Package memory is an in-process GraphStore used for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/lobbygraph/backend/pkg/store"
)

var errTxDone = errors.New("transaction already finished")

// Op names a store operation for fault injection.
type Op string

const (
	OpVerify     Op = "verify"
	OpBegin      Op = "begin"
	OpLookup     Op = "lookup"
	OpCreateNode Op = "create_node"
	OpCreateEdge Op = "create_edge"
	OpCommit     Op = "commit"
)

// FaultFunc is consulted before every operation. kind is the node label or
// relationship type involved, empty for transaction-level operations. A
// non-nil return fails the operation with that error.
type FaultFunc func(op Op, kind string) error

// Edge is a stored relationship.
type Edge struct {
	Type  string
	From  store.NodeRef
	To    store.NodeRef
	Props map[string]any
}

type Store struct {
	mu     sync.Mutex
	nodes  map[string]store.Node
	order  []string
	edges  []Edge
	nextID int64
	fault  FaultFunc
	closed bool
}

type Option func(*Store)

func WithFault(fn FaultFunc) Option {
	return func(s *Store) {
		s.fault = fn
	}
}

func New(opts ...Option) *Store {
	s := &Store{nodes: make(map[string]store.Node)}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// SetFault replaces the fault hook. A nil hook disables injection.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) check(op Op, kind string) error {
	s.mu.Lock()
	fn := s.fault
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op, kind)
}

func (s *Store) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: store closed", store.ErrUnavailable)
	}
	if err := s.check(OpVerify, ""); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.check(OpBegin, ""); err != nil {
		return nil, err
	}
	return &tx{s: s, nodes: make(map[string]store.Node)}, nil
}

func (s *Store) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]store.Node)
	s.order = nil
	s.edges = nil
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Nodes returns the committed nodes with the given label in creation order.
func (s *Store) Nodes(label string) []store.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Node
	for _, id := range s.order {
		if n := s.nodes[id]; n.Label == label {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns the committed edges of the given type.
func (s *Store) Edges(relType string) []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Edge
	for _, e := range s.edges {
		if e.Type == relType {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) allocID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}

type tx struct {
	s     *Store
	nodes map[string]store.Node
	order []string
	edges []Edge
	done  bool
}

func (t *tx) Lookup(ctx context.Context, label string, match map[string]any) (store.Node, error) {
	if t.done {
		return store.Node{}, errTxDone
	}
	if err := t.s.check(OpLookup, label); err != nil {
		return store.Node{}, err
	}
	for _, id := range t.order {
		if n := t.nodes[id]; n.Label == label && store.Matches(n.Props, match) {
			return n, nil
		}
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, id := range t.s.order {
		if n := t.s.nodes[id]; n.Label == label && store.Matches(n.Props, match) {
			return n, nil
		}
	}
	return store.Node{}, store.ErrNotFound
}

func (t *tx) node(id string) (store.Node, bool) {
	if n, ok := t.nodes[id]; ok {
		return n, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n, ok := t.s.nodes[id]
	return n, ok
}

func (t *tx) Related(ctx context.Context, ref store.NodeRef, relType string, dir store.Direction) ([]store.Node, error) {
	if t.done {
		return nil, errTxDone
	}
	t.s.mu.Lock()
	edges := append(append([]Edge(nil), t.s.edges...), t.edges...)
	t.s.mu.Unlock()

	var out []store.Node
	for _, e := range edges {
		if e.Type != relType {
			continue
		}
		var other store.NodeRef
		switch {
		case dir == store.Incoming && e.To.ID == ref.ID:
			other = e.From
		case dir == store.Outgoing && e.From.ID == ref.ID:
			other = e.To
		default:
			continue
		}
		if n, ok := t.node(other.ID); ok {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) CreateNode(ctx context.Context, label string, props map[string]any) (string, error) {
	if t.done {
		return "", errTxDone
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := t.s.check(OpCreateNode, label); err != nil {
		return "", err
	}
	id := t.s.allocID()
	t.nodes[id] = store.Node{ID: id, Label: label, Props: store.CloneProps(props)}
	t.order = append(t.order, id)
	return id, nil
}

func (t *tx) CreateEdge(ctx context.Context, relType string, from, to store.NodeRef, props map[string]any) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.s.check(OpCreateEdge, relType); err != nil {
		return err
	}
	if _, ok := t.node(from.ID); !ok {
		return fmt.Errorf("create %s edge: %w: %s", relType, store.ErrNotFound, from.ID)
	}
	if _, ok := t.node(to.ID); !ok {
		return fmt.Errorf("create %s edge: %w: %s", relType, store.ErrNotFound, to.ID)
	}
	t.edges = append(t.edges, Edge{Type: relType, From: from, To: to, Props: store.CloneProps(props)})
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	if err := t.s.check(OpCommit, ""); err != nil {
		return err
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, id := range t.order {
		t.s.nodes[id] = t.nodes[id]
		t.s.order = append(t.s.order, id)
	}
	t.s.edges = append(t.s.edges, t.edges...)
	return nil
}

// Rollback discards staged writes. Calling it after Commit is a no-op so it
// can be deferred.
func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.nodes = nil
	t.order = nil
	t.edges = nil
	return nil
}
