package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepdriveio/botworker/pkg/types"
)

func TestCollectFileMergesValidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ResultsFilename), []byte(`{"score": 42}`), 0644))

	results := types.NewResults()
	CollectFile(dir, &results)

	assert.Contains(t, results.Extras, "score")
	assert.Empty(t, results.Errors)
}

func TestCollectFileRecordsErrorWhenMissing(t *testing.T) {
	dir := t.TempDir()

	results := types.NewResults()
	CollectFile(dir, &results)

	assert.Contains(t, results.Errors, "results_file")
}

func TestCollectFileRecordsErrorOnInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ResultsFilename), []byte("not json"), 0644))

	results := types.NewResults()
	CollectFile(dir, &results)

	assert.Contains(t, results.Errors, "results_file")
}

func TestCollectStdoutExtractsDelimitedLine(t *testing.T) {
	log := "some noise\n" + JSONOutDelimiter + `{"a":1}` + "\nmore noise"

	results := types.NewResults()
	CollectStdout(log, &results)

	assert.Equal(t, `{"a":1}`, results.JSONResultsFromLogs)
}

func TestCollectStdoutEmptyWhenDelimiterAbsent(t *testing.T) {
	results := types.NewResults()
	CollectStdout("no delimiter here", &results)

	assert.Empty(t, results.JSONResultsFromLogs)
}
