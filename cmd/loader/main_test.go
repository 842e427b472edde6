package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/lobbygraph/backend/internal/config"
	"github.com/lobbygraph/backend/pkg/graph"
	"github.com/lobbygraph/backend/pkg/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filingXML = `<?xml version="1.0" encoding="UTF-8"?>
<PublicFilings>
  <Filing ID="F-1" Year="2019" Received="2019-07-22T10:57:28.753" Amount="5000" Type="Q2">
    <Registrant RegistrantID="100" RegistrantName="Lobby LLC"/>
    <Client ClientName="Acme Co"/>
  </Filing>
</PublicFilings>
`

func writeArchive(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("1.xml")
	require.NoError(t, err)
	_, err = io.WriteString(w, filingXML)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2019_Q2.zip"), buf.Bytes(), 0o644))
	return dir
}

func baseConfig() config.Config {
	return config.Config{
		LogFormat:           "text",
		Backend:             config.BackendNeo4j,
		Neo4j:               config.Neo4j{URI: "neo4j://localhost:7687"},
		ArchiveStore:        config.ArchivesFS,
		MissingAmountPolicy: ingest.AmountSkip,
		MaxTries:            1,
		CacheSizes:          graph.DefaultCacheSizes(),
		Queue:               config.RabbitMQ{LoadQueue: "load_queue"},
	}
}

func execute(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDryRunPrintsSummary(t *testing.T) {
	dir := writeArchive(t)

	out, err := execute(t, baseConfig(), "--dry-run", "--archives", dir, "--run-id", "cli1", "--json")
	require.NoError(t, err)

	var summary ingest.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "cli1", summary.RunID)
	assert.Equal(t, 1, summary.Loaded)
	assert.Empty(t, summary.Error)
}

func TestMissingArchives(t *testing.T) {
	_, err := execute(t, baseConfig(), "--dry-run")
	require.ErrorContains(t, err, "no archives")
}

func TestBadPolicy(t *testing.T) {
	_, err := execute(t, baseConfig(), "--dry-run", "--archives", t.TempDir(), "--policy", "guess")
	require.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, applyFlags(&cfg, flags{archives: "a", backend: config.BackendPostgres, policy: "ZERO"}))
	assert.Equal(t, "a", cfg.ArchivePath)
	assert.Equal(t, config.BackendPostgres, cfg.Backend)
	assert.Equal(t, ingest.AmountZero, cfg.MissingAmountPolicy)

	require.NoError(t, applyFlags(&cfg, flags{dryRun: true}))
	assert.Equal(t, config.BackendMemory, cfg.Backend)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, baseConfig(), "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}
