package loader

import (
	"slices"
	"strings"
)

// CacheKey generates a unique cache key for an ArchiveFile based on its ID and path.
func CacheKey(file ArchiveFile) string {
	return file.ID + ":" + file.FilePath
}

// SortArchives orders archives by path so quarterly batches load in a
// stable sequence.
func SortArchives(files []ArchiveFile) {
	slices.SortFunc(files, func(a, b ArchiveFile) int {
		return strings.Compare(a.FilePath, b.FilePath)
	})
}
