package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lobbygraph/backend/internal/util"
	"github.com/lobbygraph/backend/pkg/graph"
	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/record"
	"github.com/lobbygraph/backend/pkg/store"
)

// Outcome is the result of loading one record.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeLoaded
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// RecordLoader writes one filing and everything it references in a single
// store transaction.
type RecordLoader struct {
	store     store.GraphStore
	resolvers *graph.Resolvers
	policy    AmountPolicy
	timeout   time.Duration
	maxTries  int
	backoff   util.Backoff
}

type LoaderOption func(*RecordLoader)

func WithAmountPolicy(p AmountPolicy) LoaderOption {
	return func(l *RecordLoader) {
		l.policy = p
	}
}

// WithRecordTimeout bounds the time spent on one record. A record that
// runs out of time fails with graph.ErrPersistence.
func WithRecordTimeout(d time.Duration) LoaderOption {
	return func(l *RecordLoader) {
		l.timeout = d
	}
}

// WithRetry retries a record whose transaction failed with a transient
// store error. maxTries counts the first attempt.
func WithRetry(maxTries int, backoff util.Backoff) LoaderOption {
	return func(l *RecordLoader) {
		l.maxTries = maxTries
		l.backoff = backoff
	}
}

func NewRecordLoader(s store.GraphStore, r *graph.Resolvers, opts ...LoaderOption) *RecordLoader {
	l := &RecordLoader{
		store:     s,
		resolvers: r,
		policy:    AmountSkip,
		maxTries:  1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(l)
	}
	return l
}

// Load writes rec. Filings without an amount are skipped under AmountSkip.
// Errors wrap graph.ErrMalformedRecord or graph.ErrPersistence for record
// level failures and store.ErrUnavailable when no transaction could be
// opened.
func (l *RecordLoader) Load(ctx context.Context, rec record.Filing) (Outcome, error) {
	meta, err := parseFiling(rec)
	if err != nil {
		return OutcomeFailed, err
	}
	if !meta.hasAmount {
		if l.policy != AmountZero {
			logger.Debug("Skipping filing without amount", "filing", rec.ID)
			return OutcomeSkipped, nil
		}
	}
	meta.props["amount"] = meta.amount

	attempt := 0
	return util.RetryWithContext(ctx, l.maxTries, l.backoff, store.IsTransient, func(ctx context.Context) (Outcome, error) {
		attempt++
		if attempt > 1 {
			logger.Warn("Retrying filing after transient store error", "filing", rec.ID, "attempt", attempt)
		}
		if err := l.write(ctx, rec, meta); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeLoaded, nil
	})
}

type edge struct {
	rel   string
	from  store.NodeRef
	to    store.NodeRef
	props map[string]any
}

func (l *RecordLoader) write(ctx context.Context, rec record.Filing, meta filingMeta) (err error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	tx, err := l.store.Begin(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: begin transaction: %w", graph.ErrPersistence, err)
		}
		return fmt.Errorf("%w: begin transaction: %w", store.ErrUnavailable, err)
	}
	j := graph.NewJournal()
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			logger.Warn("Failed to roll back filing transaction", "filing", rec.ID, "err", rbErr)
		}
		j.Rollback()
	}()

	client, err := l.resolvers.Client(ctx, tx, j, rec.Client)
	if err != nil {
		return err
	}

	filingID, err := tx.CreateNode(ctx, graph.LabelFiling, meta.props)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", graph.ErrPersistence, graph.LabelFiling, err)
	}
	filing := store.NodeRef{Label: graph.LabelFiling, ID: filingID}
	edges := []edge{{rel: graph.RelOnBehalfOf, from: filing, to: client.Ref()}}

	reg, err := l.resolvers.Registrant(ctx, tx, j, rec.Registrant, client)
	if err != nil {
		return err
	}
	edges = append(edges, edge{rel: graph.RelFiled, from: reg.Ref(), to: filing})

	seen := make(map[string]struct{})
	addOnce := func(rel string, from, to store.NodeRef) {
		k := rel + "\x00" + from.ID + "\x00" + to.ID
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		edges = append(edges, edge{rel: rel, from: from, to: to})
	}

	for _, mention := range rec.Lobbyists {
		lob, ok, err := l.resolvers.Lobbyist(ctx, tx, j, mention, reg)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		addOnce(graph.RelLobbyingFor, lob.Ref(), filing)
	}

	for _, mention := range rec.GovernmentEntities {
		ent, ok, err := l.resolvers.GovernmentEntity(ctx, tx, j, mention)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		addOnce(graph.RelTargetedAt, filing, ent.Ref())
	}

	for _, mention := range rec.Issues {
		issue, ok, err := l.resolvers.Issue(ctx, tx, j, mention)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		props := map[string]any{}
		if desc, ok := graph.Normalize(mention.SpecificIssue); ok {
			props["desc"] = desc
		}
		edges = append(edges, edge{rel: graph.RelAbout, from: filing, to: issue.Ref(), props: props})
	}

	for _, e := range edges {
		if err := tx.CreateEdge(ctx, e.rel, e.from, e.to, e.props); err != nil {
			return fmt.Errorf("%w: create %s edge: %w", graph.ErrPersistence, e.rel, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", graph.ErrPersistence, err)
	}
	j.Commit()
	return nil
}
