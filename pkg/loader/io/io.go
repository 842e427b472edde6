package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lobbygraph/backend/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// IOArchiveLoader loads archives directly from the local filesystem with caching.
type IOArchiveLoader struct {
	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewIOArchiveLoader creates a new filesystem-based archive loader.
func NewIOArchiveLoader() *IOArchiveLoader {
	return &IOArchiveLoader{
		cache: make(map[string][]byte),
	}
}

// GetArchive reads the archive from the filesystem. Results are cached until
// released.
func (l *IOArchiveLoader) GetArchive(ctx context.Context, file loader.ArchiveFile) ([]byte, error) {
	key := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[key]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := os.ReadFile(file.FilePath)
		if err != nil {
			return nil, err
		}

		l.cacheMu.Lock()
		l.cache[key] = result
		l.cacheMu.Unlock()

		return result, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

func (l *IOArchiveLoader) Release(file loader.ArchiveFile) {
	l.cacheMu.Lock()
	delete(l.cache, loader.CacheKey(file))
	l.cacheMu.Unlock()
}

// ListArchives returns the zip archives at p. A directory yields every
// archive directly inside it in path order; a file yields itself.
func (l *IOArchiveLoader) ListArchives(p string) ([]loader.ArchiveFile, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []loader.ArchiveFile{loader.NewArchiveFile(loader.NewArchiveFileParams{FilePath: p, Loader: l})}, nil
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	var files []loader.ArchiveFile
	for _, e := range entries {
		if e.IsDir() || !loader.IsArchive(e.Name()) {
			continue
		}
		files = append(files, loader.NewArchiveFile(loader.NewArchiveFileParams{
			FilePath: filepath.Join(p, e.Name()),
			Loader:   l,
		}))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no zip archives in %s", p)
	}
	loader.SortArchives(files)
	return files, nil
}
