package queue

import (
	"encoding/json"
	"fmt"

	"github.com/lobbygraph/backend/pkg/ingest"
)

// LoadRequest asks the worker to purge the store and load the archives at
// ArchivePath. An empty path uses the configured default.
type LoadRequest struct {
	RunID       string `json:"runId,omitempty"`
	ArchivePath string `json:"archivePath,omitempty"`
}

func DecodeLoadRequest(body []byte) (LoadRequest, error) {
	var req LoadRequest
	if len(body) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("decode load request: %w", err)
	}
	return req, nil
}

// LoadResult is published to the summary queue after each attempt.
type LoadResult struct {
	Request LoadRequest       `json:"request"`
	Attempt int               `json:"attempt"`
	Summary ingest.RunSummary `json:"summary"`
}
