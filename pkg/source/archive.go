// Package source reads LDA filing records out of zip archives of XML
// documents.
package source

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/lobbygraph/backend/pkg/loader"
	"github.com/lobbygraph/backend/pkg/logger"
	"github.com/lobbygraph/backend/pkg/record"
)

// ArchiveSource yields the filings of every XML entry of every archive, in
// archive order then entry order. Each record's Source is
// "<archive>/<entry>".
type ArchiveSource struct {
	archives []loader.ArchiveFile
	next     int

	archive *loader.ArchiveFile
	zr      *zip.Reader
	entry   int

	cur *ReaderSource
}

func NewArchiveSource(archives []loader.ArchiveFile) *ArchiveSource {
	return &ArchiveSource{archives: archives}
}

func (s *ArchiveSource) Next(ctx context.Context) (record.Filing, error) {
	for {
		if err := ctx.Err(); err != nil {
			return record.Filing{}, err
		}

		if s.cur != nil {
			rec, err := s.cur.Next(ctx)
			if err == nil {
				return rec, nil
			}
			s.closeEntry()
			if err != io.EOF {
				return record.Filing{}, err
			}
			continue
		}

		if s.zr != nil {
			if err := s.openNextEntry(); err != nil {
				return record.Filing{}, err
			}
			continue
		}

		if s.next >= len(s.archives) {
			return record.Filing{}, io.EOF
		}
		if err := s.openArchive(ctx, &s.archives[s.next]); err != nil {
			return record.Filing{}, err
		}
		s.next++
	}
}

func (s *ArchiveSource) openArchive(ctx context.Context, file *loader.ArchiveFile) error {
	data, err := file.GetBytes(ctx)
	if err != nil {
		return fmt.Errorf("load archive %s: %w", file.FilePath, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open archive %s: %w", file.FilePath, err)
	}
	logger.Info("Reading filing archive", "archive", file.FilePath, "entries", len(zr.File))
	s.archive = file
	s.zr = zr
	s.entry = 0
	return nil
}

// openNextEntry advances to the next XML entry, releasing the archive after
// its last one.
func (s *ArchiveSource) openNextEntry() error {
	for s.entry < len(s.zr.File) {
		f := s.zr.File[s.entry]
		s.entry++
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".xml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s in %s: %w", f.Name, s.archive.FilePath, err)
		}
		s.cur = NewReaderSource(rc, s.archive.Name()+"/"+f.Name)
		return nil
	}
	s.archive.Release()
	s.archive = nil
	s.zr = nil
	return nil
}

func (s *ArchiveSource) closeEntry() {
	if s.cur != nil {
		_ = s.cur.Close()
	}
	s.cur = nil
}

func (s *ArchiveSource) Close() error {
	s.closeEntry()
	if s.archive != nil {
		s.archive.Release()
		s.archive = nil
	}
	s.zr = nil
	return nil
}

// ReaderSource yields the filings of a single XML document. ArchiveSource
// reads each zip entry through one.
type ReaderSource struct {
	dec *filingDecoder
	c   io.Closer
}

// NewReaderSource reads filings from r. If r is an io.Closer it is closed by
// Close.
func NewReaderSource(r io.Reader, name string) *ReaderSource {
	s := &ReaderSource{dec: newFilingDecoder(r, name)}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *ReaderSource) Next(ctx context.Context) (record.Filing, error) {
	if err := ctx.Err(); err != nil {
		return record.Filing{}, err
	}
	rec, err := s.dec.next()
	if err != nil && err != io.EOF {
		return record.Filing{}, fmt.Errorf("decode %s: %w", s.dec.source, err)
	}
	return rec, err
}

func (s *ReaderSource) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}
