package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/lobbygraph/backend/pkg/record"
)

// ErrSourceExhausted marks a source that failed before reaching its end.
// It aborts the run.
var ErrSourceExhausted = errors.New("record source failed")

// Source yields filings in order. Next returns io.EOF after the last record.
type Source interface {
	Next(ctx context.Context) (record.Filing, error)
	Close() error
}

// SliceSource serves records from memory.
type SliceSource struct {
	records []record.Filing
	pos     int
}

func NewSliceSource(records ...record.Filing) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (record.Filing, error) {
	if err := ctx.Err(); err != nil {
		return record.Filing{}, err
	}
	if s.pos >= len(s.records) {
		return record.Filing{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *SliceSource) Close() error {
	return nil
}
