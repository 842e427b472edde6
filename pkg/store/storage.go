package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Lookup when no node matches.
	ErrNotFound = errors.New("node not found")
	// ErrUnavailable marks a store that cannot be reached at all.
	ErrUnavailable = errors.New("graph store unavailable")
	// ErrTransient marks a single failed call that may succeed when retried.
	ErrTransient = errors.New("transient graph store error")
)

// Direction selects which side of a relationship Related follows.
type Direction int

const (
	// Incoming follows edges that end at the given node.
	Incoming Direction = iota
	// Outgoing follows edges that start at the given node.
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Node is a stored graph node. ID is assigned by the backend on creation and
// is stable for the lifetime of the store.
type Node struct {
	ID    string
	Label string
	Props map[string]any
}

// Ref returns a reference usable as an edge endpoint.
func (n Node) Ref() NodeRef {
	return NodeRef{Label: n.Label, ID: n.ID}
}

// NodeRef identifies a node by label and backend id.
type NodeRef struct {
	Label string
	ID    string
}

// Querier is the read side shared by transactions.
type Querier interface {
	// Lookup returns the single node with the given label whose properties
	// contain every key/value pair of match. It returns ErrNotFound when no
	// node matches.
	Lookup(ctx context.Context, label string, match map[string]any) (Node, error)
	// Related returns the nodes connected to ref by relType in the given
	// direction.
	Related(ctx context.Context, ref NodeRef, relType string, dir Direction) ([]Node, error)
}

// Tx is a store transaction. Reads through a Tx observe its own writes.
type Tx interface {
	Querier
	CreateNode(ctx context.Context, label string, props map[string]any) (string, error)
	CreateEdge(ctx context.Context, relType string, from, to NodeRef, props map[string]any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// GraphStore is the persistent graph the loader writes into. Implementations
// are expected to be used by one writer at a time.
type GraphStore interface {
	// Verify checks that the store is reachable. Failures wrap ErrUnavailable.
	Verify(ctx context.Context) error
	Begin(ctx context.Context) (Tx, error)
	// Purge removes every node and edge.
	Purge(ctx context.Context) error
	Close(ctx context.Context) error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Index names the properties a backend should index for a label so Lookup
// on an identity key does not scan.
type Index struct {
	Label string
	Props []string
}
