package s3

import (
	"context"
	"sync"

	"github.com/lobbygraph/backend/internal/storage"
	"github.com/lobbygraph/backend/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// S3ArchiveLoader is an ArchiveLoader implementation that loads archives
// from an S3 bucket. It uses the AWS SDK v2 for Go.
type S3ArchiveLoader struct {
	bucket string
	client storage.ObjectAPI

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewS3ArchiveLoaderWithClient creates a new S3ArchiveLoader using an
// existing client.
func NewS3ArchiveLoaderWithClient(bucket string, client storage.ObjectAPI) *S3ArchiveLoader {
	return &S3ArchiveLoader{
		bucket: bucket,
		client: client,
		cache:  make(map[string][]byte),
	}
}

// GetArchive retrieves the archive from the configured bucket. Concurrent
// requests for the same archive share one download.
func (l *S3ArchiveLoader) GetArchive(ctx context.Context, file loader.ArchiveFile) ([]byte, error) {
	cacheKey := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[cacheKey]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(cacheKey, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[cacheKey]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		byts, err := storage.GetFile(ctx, l.client, l.bucket, file.FilePath)
		if err != nil {
			return nil, err
		}

		l.cacheMu.Lock()
		l.cache[cacheKey] = byts
		l.cacheMu.Unlock()

		return byts, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

func (l *S3ArchiveLoader) Release(file loader.ArchiveFile) {
	l.cacheMu.Lock()
	delete(l.cache, loader.CacheKey(file))
	l.cacheMu.Unlock()
}

// ListArchives returns the zip archives stored under prefix in key order.
func (l *S3ArchiveLoader) ListArchives(ctx context.Context, prefix string) ([]loader.ArchiveFile, error) {
	keys, err := storage.ListFilesWithPrefix(ctx, l.client, l.bucket, prefix)
	if err != nil {
		return nil, err
	}
	var files []loader.ArchiveFile
	for _, key := range keys {
		if !loader.IsArchive(key) {
			continue
		}
		files = append(files, loader.NewArchiveFile(loader.NewArchiveFileParams{
			FilePath: key,
			Loader:   l,
		}))
	}
	loader.SortArchives(files)
	return files, nil
}
