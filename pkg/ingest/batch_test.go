package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lobbygraph/backend/pkg/graph"
	"github.com/lobbygraph/backend/pkg/record"
	"github.com/lobbygraph/backend/pkg/store"
	"github.com/lobbygraph/backend/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct {
	*SliceSource
	err error
}

func (s *failingSource) Next(ctx context.Context) (record.Filing, error) {
	rec, err := s.SliceSource.Next(ctx)
	if errors.Is(err, io.EOF) {
		return record.Filing{}, s.err
	}
	return rec, err
}

type recordingReporter struct {
	outcomes []Outcome
	sources  []SourceSummary
}

func (r *recordingReporter) RecordDone(o Outcome, _ time.Duration) {
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingReporter) SourceDone(s SourceSummary) {
	r.sources = append(r.sources, s)
}

func newDriver(t *testing.T, s store.GraphStore, opts ...DriverOption) *Driver {
	t.Helper()
	r, err := graph.NewResolvers(graph.DefaultCacheSizes())
	require.NoError(t, err)
	opts = append(opts, WithResolvers(r))
	return NewDriver(s, NewRecordLoader(s, r), opts...)
}

func TestRunEndToEnd(t *testing.T) {
	a := filing("F-1", "Acme Co", "100", "5000")
	a.Lobbyists = []record.Lobbyist{{FullName: "Doe, Jane"}}
	b := filing("F-2", "Acme Co", "100", "")
	b.Lobbyists = []record.Lobbyist{{FullName: "Doe, Jane"}}

	s := memory.New()
	summary, err := newDriver(t, s, WithRunID("run-1")).Run(context.Background(), NewSliceSource(a, b))
	require.NoError(t, err)

	assert.Len(t, s.Nodes(graph.LabelClient), 1)
	assert.Len(t, s.Nodes(graph.LabelRegistrant), 1)
	assert.Len(t, s.Nodes(graph.LabelLobbyist), 1)
	assert.Len(t, s.Nodes(graph.LabelFiling), 1)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 1, summary.Loaded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, summary.Processed())
	assert.Contains(t, summary.Caches, graph.LabelClient)
	assert.Empty(t, summary.Error)
}

func TestRunSummarizesPerSource(t *testing.T) {
	recs := []record.Filing{
		filing("F-1", "Acme Co", "100", "10"),
		filing("F-2", "", "100", "10"),
		filing("F-3", "Beta LLC", "200", ""),
	}
	recs[0].Source, recs[1].Source, recs[2].Source = "2019_Q2_1.xml", "2019_Q2_1.xml", "2019_Q2_2.xml"

	rep := &recordingReporter{}
	summary, err := newDriver(t, memory.New(), WithReporter(rep)).Run(context.Background(), NewSliceSource(recs...))
	require.NoError(t, err)

	require.Len(t, summary.Sources, 2)
	assert.Equal(t, SourceSummary{Source: "2019_Q2_1.xml", Loaded: 1, Failed: 1}, withoutElapsed(summary.Sources[0]))
	assert.Equal(t, SourceSummary{Source: "2019_Q2_2.xml", Skipped: 1}, withoutElapsed(summary.Sources[1]))
	assert.Equal(t, []Outcome{OutcomeLoaded, OutcomeFailed, OutcomeSkipped}, rep.outcomes)
	assert.Len(t, rep.sources, 2)

	text := summary.String()
	assert.Contains(t, text, "3 processed, 1 loaded, 1 skipped, 1 failed")
	assert.Contains(t, text, "2019_Q2_2.xml: 1 processed")
}

func withoutElapsed(s SourceSummary) SourceSummary {
	s.Elapsed = 0
	return s
}

func TestRunPurgesStoreFirst(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.CreateNode(ctx, graph.LabelClient, map[string]any{"name": "Stale"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = newDriver(t, s).Run(ctx, NewSliceSource())
	require.NoError(t, err)
	assert.Empty(t, s.Nodes(graph.LabelClient))
}

func TestRunAbortsOnSourceFailure(t *testing.T) {
	src := &failingSource{
		SliceSource: NewSliceSource(filing("F-1", "Acme Co", "100", "10")),
		err:         errors.New("zip: checksum error"),
	}
	summary, err := newDriver(t, memory.New()).Run(context.Background(), src)
	assert.ErrorIs(t, err, ErrSourceExhausted)
	assert.Equal(t, 1, summary.Loaded)
	assert.True(t, strings.Contains(summary.Error, "checksum"))
}

func TestRunAbortsWhenStoreUnreachable(t *testing.T) {
	s := memory.New(memory.WithFault(func(op memory.Op, kind string) error {
		if op == memory.OpVerify {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}))
	_, err := newDriver(t, s).Run(context.Background(), NewSliceSource(filing("F-1", "Acme Co", "100", "10")))
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestRunAbortsWhenBeginFails(t *testing.T) {
	s := memory.New()
	d := newDriver(t, s)
	s.SetFault(func(op memory.Op, kind string) error {
		if op == memory.OpBegin {
			return errors.New("connection refused")
		}
		return nil
	})
	summary, err := d.Run(context.Background(), NewSliceSource(
		filing("F-1", "Acme Co", "100", "10"),
		filing("F-2", "Acme Co", "100", "10"),
	))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, 0, summary.Processed())
}

func TestRunContinuesAfterPersistenceFailure(t *testing.T) {
	s := memory.New()
	calls := 0
	s.SetFault(func(op memory.Op, kind string) error {
		if op == memory.OpCreateNode && kind == graph.LabelFiling {
			calls++
			if calls == 1 {
				return errors.New("write conflict")
			}
		}
		return nil
	})
	summary, err := newDriver(t, s).Run(context.Background(), NewSliceSource(
		filing("F-1", "Acme Co", "100", "10"),
		filing("F-2", "Acme Co", "100", "10"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Loaded)
	assert.Len(t, s.Nodes(graph.LabelFiling), 1)
	assert.Len(t, s.Nodes(graph.LabelClient), 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newDriver(t, memory.New()).Run(ctx, NewSliceSource(filing("F-1", "Acme Co", "100", "10")))
	assert.ErrorIs(t, err, context.Canceled)
}
