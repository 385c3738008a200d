// Package collector reads a finished job's results from its two
// optional output channels: a results.json file written into the
// shared results mount, and a delimiter-marked line in the
// concatenated container log. It is the Go equivalent of the
// original worker's get_results/is_json pair.
package collector

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/deepdriveio/botworker/pkg/types"
)

// JSONOutDelimiter marks the start of a raw JSON payload on stdout, so
// a container can report results without writing to the file channel.
const JSONOutDelimiter = "|~__JSON_OUT_LINE_DELIMITER__~|"

// ResultsFilename is the expected file-channel filename inside a
// job's results mount directory.
const ResultsFilename = "results.json"

// CollectFile reads <resultsDir>/results.json and merges its top-level
// keys into results.Extras (see types.Results.Merge). A missing or non-JSON file is not an error from the
// collector's point of view; it records results.Errors["results_file"]
// instead, matching get_results' "no results file" fallback.
func CollectFile(resultsDir string, results *types.Results) {
	path := resultsDir + "/" + ResultsFilename

	data, err := os.ReadFile(path)
	if err != nil {
		results.Errors["results_file"] = "no results file found at " + path
		return
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		results.Errors["results_file"] = "results file at " + path + " is not valid JSON: " + err.Error()
		return
	}

	results.Merge(parsed)
}

// CollectStdout scans runLog for JSONOutDelimiter; everything from the
// delimiter to the end of that line (exclusive of the delimiter
// itself) becomes JSONResultsFromLogs, as a raw string -- it is never
// parsed here. An absent delimiter leaves the field empty.
func CollectStdout(runLog string, results *types.Results) {
	idx := strings.Index(runLog, JSONOutDelimiter)
	if idx < 0 {
		return
	}

	rest := runLog[idx+len(JSONOutDelimiter):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	results.JSONResultsFromLogs = rest
}
