package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/lobbygraph/backend/pkg/entitycache"
)

// SourceSummary counts the records of one logical source.
type SourceSummary struct {
	Source  string        `json:"source"`
	Loaded  int           `json:"loaded"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Elapsed time.Duration `json:"elapsed"`
}

func (s SourceSummary) Processed() int {
	return s.Loaded + s.Skipped + s.Failed
}

func (s SourceSummary) String() string {
	name := s.Source
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s: %d processed, %d loaded, %d skipped, %d failed in %s",
		name, s.Processed(), s.Loaded, s.Skipped, s.Failed, s.Elapsed.Round(time.Millisecond))
}

func (s *SourceSummary) add(o Outcome) {
	switch o {
	case OutcomeLoaded:
		s.Loaded++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	RunID     string                       `json:"runId,omitempty"`
	StartedAt time.Time                    `json:"startedAt"`
	Elapsed   time.Duration                `json:"elapsed"`
	Loaded    int                          `json:"loaded"`
	Skipped   int                          `json:"skipped"`
	Failed    int                          `json:"failed"`
	Sources   []SourceSummary              `json:"sources"`
	Caches    map[string]entitycache.Stats `json:"caches,omitempty"`
	// Error is set when the run aborted.
	Error string `json:"error,omitempty"`
}

func (r RunSummary) Processed() int {
	return r.Loaded + r.Skipped + r.Failed
}

func (r RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d processed, %d loaded, %d skipped, %d failed in %s",
		r.RunID, r.Processed(), r.Loaded, r.Skipped, r.Failed, r.Elapsed.Round(time.Millisecond))
	for _, s := range r.Sources {
		b.WriteString("\n  ")
		b.WriteString(s.String())
	}
	if r.Error != "" {
		b.WriteString("\n  aborted: ")
		b.WriteString(r.Error)
	}
	return b.String()
}

func (r *RunSummary) addSource(s SourceSummary) {
	r.Loaded += s.Loaded
	r.Skipped += s.Skipped
	r.Failed += s.Failed
	r.Sources = append(r.Sources, s)
}
