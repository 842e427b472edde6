package loader

import (
	"context"
	"path"
	"strings"
)

// ArchiveFile is a filing archive to be read by a record source. Its bytes
// are fetched through the associated ArchiveLoader.
type ArchiveFile struct {
	ID       string
	FilePath string
	Loader   ArchiveLoader
}

// NewArchiveFileParams defines the input parameters for NewArchiveFile.
type NewArchiveFileParams struct {
	ID       string
	FilePath string
	Loader   ArchiveLoader
}

// NewArchiveFile creates an ArchiveFile. The ID defaults to the base name of
// the path.
func NewArchiveFile(params NewArchiveFileParams) ArchiveFile {
	id := params.ID
	if id == "" {
		id = path.Base(params.FilePath)
	}
	return ArchiveFile{
		ID:       id,
		FilePath: params.FilePath,
		Loader:   params.Loader,
	}
}

// Name is the logical source name reported in run summaries.
func (f *ArchiveFile) Name() string {
	return path.Base(f.FilePath)
}

// GetBytes retrieves the archive content using its Loader.
func (f *ArchiveFile) GetBytes(ctx context.Context) ([]byte, error) {
	return f.Loader.GetArchive(ctx, *f)
}

// Release drops any copy of the archive the Loader kept around.
func (f *ArchiveFile) Release() {
	f.Loader.Release(*f)
}

// ArchiveLoader defines the interface for fetching archive bytes.
// Implementations may load files from disk, cloud storage, or other sources.
type ArchiveLoader interface {
	GetArchive(ctx context.Context, file ArchiveFile) ([]byte, error)
	Release(file ArchiveFile)
}

// IsArchive reports whether p names a zip archive.
func IsArchive(p string) bool {
	return strings.EqualFold(path.Ext(p), ".zip")
}
