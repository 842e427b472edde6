package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/lobbygraph/backend/pkg/entitycache"
	"github.com/lobbygraph/backend/pkg/record"
	"github.com/lobbygraph/backend/pkg/store"
)

// CacheSizes bounds each entity cache.
type CacheSizes struct {
	Client           int `validate:"min=1"`
	Registrant       int `validate:"min=1"`
	Lobbyist         int `validate:"min=1"`
	GovernmentEntity int `validate:"min=1"`
	Issue            int `validate:"min=1"`
}

func DefaultCacheSizes() CacheSizes {
	return CacheSizes{
		Client:           1000,
		Registrant:       500,
		Lobbyist:         2000,
		GovernmentEntity: 250,
		Issue:            200,
	}
}

// Resolvers implements find-or-create for the five shared entity kinds. It
// is owned by a single run and must not be used from more than one
// goroutine at a time.
type Resolvers struct {
	clients     *entitycache.Cache[string, *Client]
	registrants *entitycache.Cache[int64, *Registrant]
	lobbyists   *entitycache.Cache[LobbyistName, *Lobbyist]
	entities    *entitycache.Cache[string, *GovernmentEntity]
	issues      *entitycache.Cache[string, *Issue]
}

func NewResolvers(sizes CacheSizes, opts ...entitycache.Option) (*Resolvers, error) {
	var (
		r   Resolvers
		err error
	)
	if r.clients, err = entitycache.New(LabelClient, sizes.Client, loadClient, opts...); err != nil {
		return nil, err
	}
	if r.registrants, err = entitycache.New(LabelRegistrant, sizes.Registrant, loadRegistrant, opts...); err != nil {
		return nil, err
	}
	if r.lobbyists, err = entitycache.New(LabelLobbyist, sizes.Lobbyist, loadLobbyist, opts...); err != nil {
		return nil, err
	}
	if r.entities, err = entitycache.New(LabelGovernmentEntity, sizes.GovernmentEntity, loadGovernmentEntity, opts...); err != nil {
		return nil, err
	}
	if r.issues, err = entitycache.New(LabelIssue, sizes.Issue, loadIssue, opts...); err != nil {
		return nil, err
	}
	return &r, nil
}

type namedStats interface {
	Name() string
	Stats() entitycache.Stats
}

// Stats returns cache statistics keyed by cache name, which is the node
// label.
func (r *Resolvers) Stats() map[string]entitycache.Stats {
	caches := []namedStats{r.clients, r.registrants, r.lobbyists, r.entities, r.issues}
	out := make(map[string]entitycache.Stats, len(caches))
	for _, c := range caches {
		out[c.Name()] = c.Stats()
	}
	return out
}

// Client resolves the filing's client. A missing name is a malformed record.
func (r *Resolvers) Client(ctx context.Context, tx store.Tx, j *Journal, frag record.Client) (*Client, error) {
	key, err := ClientKey(frag.Name)
	if err != nil {
		return nil, err
	}
	c, ok, err := r.clients.Get(ctx, tx, key)
	if err != nil {
		return nil, lookupFailed(LabelClient, key, err)
	}
	if ok {
		track(j, r.clients, key, &c.node)
		return c, nil
	}

	props := clientProps(key, frag)
	n, err := createNode(ctx, tx, LabelClient, props)
	if err != nil {
		return nil, err
	}
	c = &Client{node: n, Name: key, Props: props}
	install(j, r.clients, key, c)
	return c, nil
}

// Registrant resolves the filing's registrant and records client as one of
// its clients.
func (r *Resolvers) Registrant(ctx context.Context, tx store.Tx, j *Journal, frag record.Registrant, client *Client) (*Registrant, error) {
	key, err := RegistrantKey(frag.ID)
	if err != nil {
		return nil, err
	}
	reg, ok, err := r.registrants.Get(ctx, tx, key)
	if err != nil {
		return nil, lookupFailed(LabelRegistrant, key, err)
	}
	if ok {
		track(j, r.registrants, key, &reg.node)
	} else {
		props := registrantProps(key, frag)
		n, err := createNode(ctx, tx, LabelRegistrant, props)
		if err != nil {
			return nil, err
		}
		reg = &Registrant{node: n, RegistrantID: key, Props: props, clients: map[string]struct{}{}}
		install(j, r.registrants, key, reg)
	}

	var from *node
	if client != nil {
		from = &client.node
	}
	if err := linkOnce(ctx, tx, j, reg.clients, RelEngages, from, &reg.node); err != nil {
		return nil, err
	}
	return reg, nil
}

// Lobbyist resolves a listed lobbyist and records employer. It returns false
// when the name cannot be split into surname and first name.
func (r *Resolvers) Lobbyist(ctx context.Context, tx store.Tx, j *Journal, frag record.Lobbyist, employer *Registrant) (*Lobbyist, bool, error) {
	key, ok := LobbyistKey(frag.FullName)
	if !ok {
		return nil, false, nil
	}
	l, ok, err := r.lobbyists.Get(ctx, tx, key)
	if err != nil {
		return nil, false, lookupFailed(LabelLobbyist, key, err)
	}
	if ok {
		track(j, r.lobbyists, key, &l.node)
	} else {
		props := lobbyistProps(key, frag)
		n, err := createNode(ctx, tx, LabelLobbyist, props)
		if err != nil {
			return nil, false, err
		}
		l = &Lobbyist{node: n, Name: key, Props: props, employers: map[string]struct{}{}}
		install(j, r.lobbyists, key, l)
	}

	var from *node
	if employer != nil {
		from = &employer.node
	}
	if err := linkOnce(ctx, tx, j, l.employers, RelEmploys, from, &l.node); err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// GovernmentEntity resolves a referenced government entity. An empty name
// is reported as absent.
func (r *Resolvers) GovernmentEntity(ctx context.Context, tx store.Tx, j *Journal, frag record.GovernmentEntity) (*GovernmentEntity, bool, error) {
	key, ok := EntityKey(frag.Name)
	if !ok {
		return nil, false, nil
	}
	e, ok, err := r.entities.Get(ctx, tx, key)
	if err != nil {
		return nil, false, lookupFailed(LabelGovernmentEntity, key, err)
	}
	if ok {
		track(j, r.entities, key, &e.node)
		return e, true, nil
	}

	n, err := createNode(ctx, tx, LabelGovernmentEntity, map[string]any{"name": key})
	if err != nil {
		return nil, false, err
	}
	e = &GovernmentEntity{node: n, Name: key}
	install(j, r.entities, key, e)
	return e, true, nil
}

// Issue resolves an issue by code. An empty code is reported as absent.
func (r *Resolvers) Issue(ctx context.Context, tx store.Tx, j *Journal, frag record.Issue) (*Issue, bool, error) {
	key, ok := IssueKey(frag.Code)
	if !ok {
		return nil, false, nil
	}
	is, ok, err := r.issues.Get(ctx, tx, key)
	if err != nil {
		return nil, false, lookupFailed(LabelIssue, key, err)
	}
	if ok {
		track(j, r.issues, key, &is.node)
		return is, true, nil
	}

	n, err := createNode(ctx, tx, LabelIssue, map[string]any{"code": key})
	if err != nil {
		return nil, false, err
	}
	is = &Issue{node: n, Code: key}
	install(j, r.issues, key, is)
	return is, true, nil
}

func createNode(ctx context.Context, tx store.Tx, label string, props map[string]any) (node, error) {
	id, err := tx.CreateNode(ctx, label, props)
	if err != nil {
		return node{}, fmt.Errorf("%w: create %s: %w", ErrPersistence, label, err)
	}
	return node{id: id, label: label}, nil
}

func lookupFailed(label string, key any, err error) error {
	return fmt.Errorf("%w: lookup %s %v: %w", ErrPersistence, label, key, err)
}

// install caches a newly created entity and journals its removal.
func install[K comparable, V any](j *Journal, c *entitycache.Cache[K, V], key K, v V) {
	c.Put(key, v)
	j.record(func() { c.Remove(key) })
}

// track journals the removal of an entity the cache just loaded from the
// store. The node may have been written earlier in the same transaction.
func track[K comparable, V any](j *Journal, c *entitycache.Cache[K, V], key K, n *node) {
	if !n.fresh {
		return
	}
	n.fresh = false
	j.record(func() { c.Remove(key) })
}

// linkOnce creates from -[relType]-> to unless from is already in set.
func linkOnce(ctx context.Context, tx store.Tx, j *Journal, set map[string]struct{}, relType string, from, to *node) error {
	if from == nil {
		return nil
	}
	if _, ok := set[from.id]; ok {
		return nil
	}
	if err := tx.CreateEdge(ctx, relType, from.Ref(), to.Ref(), nil); err != nil {
		return fmt.Errorf("%w: create %s edge: %w", ErrPersistence, relType, err)
	}
	id := from.id
	set[id] = struct{}{}
	j.record(func() { delete(set, id) })
	return nil
}

func lookup(ctx context.Context, q store.Querier, label string, match map[string]any) (store.Node, bool, error) {
	n, err := q.Lookup(ctx, label, match)
	if errors.Is(err, store.ErrNotFound) {
		return store.Node{}, false, nil
	}
	if err != nil {
		return store.Node{}, false, err
	}
	return n, true, nil
}

// related returns the ids of nodes linked to n by relType, used to restore
// an entity's edge set after it is re-read from the store.
func related(ctx context.Context, q store.Querier, n node, relType string, dir store.Direction) (map[string]struct{}, error) {
	nodes, err := q.Related(ctx, n.Ref(), relType, dir)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(nodes))
	for _, other := range nodes {
		set[other.ID] = struct{}{}
	}
	return set, nil
}

func loaded(label string, n store.Node) node {
	return node{id: n.ID, label: label, fresh: true}
}

func loadClient(ctx context.Context, q store.Querier, key string) (*Client, bool, error) {
	n, ok, err := lookup(ctx, q, LabelClient, map[string]any{"name": key})
	if err != nil || !ok {
		return nil, false, err
	}
	return &Client{node: loaded(LabelClient, n), Name: key, Props: n.Props}, true, nil
}

func loadRegistrant(ctx context.Context, q store.Querier, key int64) (*Registrant, bool, error) {
	n, ok, err := lookup(ctx, q, LabelRegistrant, map[string]any{"registrantId": key})
	if err != nil || !ok {
		return nil, false, err
	}
	reg := &Registrant{node: loaded(LabelRegistrant, n), RegistrantID: key, Props: n.Props}
	if reg.clients, err = related(ctx, q, reg.node, RelEngages, store.Incoming); err != nil {
		return nil, false, err
	}
	return reg, true, nil
}

func loadLobbyist(ctx context.Context, q store.Querier, key LobbyistName) (*Lobbyist, bool, error) {
	n, ok, err := lookup(ctx, q, LabelLobbyist, map[string]any{
		"surname":   key.Surname,
		"firstName": key.FirstName,
	})
	if err != nil || !ok {
		return nil, false, err
	}
	l := &Lobbyist{node: loaded(LabelLobbyist, n), Name: key, Props: n.Props}
	if l.employers, err = related(ctx, q, l.node, RelEmploys, store.Incoming); err != nil {
		return nil, false, err
	}
	return l, true, nil
}

func loadGovernmentEntity(ctx context.Context, q store.Querier, key string) (*GovernmentEntity, bool, error) {
	n, ok, err := lookup(ctx, q, LabelGovernmentEntity, map[string]any{"name": key})
	if err != nil || !ok {
		return nil, false, err
	}
	return &GovernmentEntity{node: loaded(LabelGovernmentEntity, n), Name: key}, true, nil
}

func loadIssue(ctx context.Context, q store.Querier, key string) (*Issue, bool, error) {
	n, ok, err := lookup(ctx, q, LabelIssue, map[string]any{"code": key})
	if err != nil || !ok {
		return nil, false, err
	}
	return &Issue{node: loaded(LabelIssue, n), Code: key}, true, nil
}
