package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadcheck/internal/history"
	"github.com/wesleyorama2/loadcheck/internal/output"
	"github.com/wesleyorama2/loadcheck/internal/testserver"
)

const scenarioTemplate = `name: cli-test
executor: shared-iterations
vus: 2
iterations: 6
maxDuration: 30s
thresholds:
%s
variables:
  baseUrl: http://placeholder
request:
  method: POST
  url: "{{baseUrl}}/api/v1/orders"
  body: '{"id": "{{uuid}}"}'
  checks:
    - name: status is 202
      status: 202
`

func writeScenario(t *testing.T, thresholds string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(scenarioTemplate, "%s", thresholds, 1)), 0644))
	return path
}

func orderServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"order_id":"o-1","status":"PENDING"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Pass(t *testing.T) {
	server := orderServer(t, http.StatusAccepted)
	scenario := writeScenario(t, "  http_req_failed: [\"rate==0\"]\n  checks: [\"rate==1\"]")
	historyFile := filepath.Join(t.TempDir(), "history.db")

	code, stdout, stderr := execute(t, "run", scenario,
		"--var", "baseUrl="+server.URL,
		"--eval-interval", "50ms",
		"--history-file", historyFile,
		"--no-color")
	require.Equal(t, ExitPass, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "cli-test - PASS")
	assert.Contains(t, stdout, "Iterations:    6")

	code, stdout, _ = execute(t, "history", "--history-file", historyFile, "--json")
	require.Equal(t, ExitPass, code)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "cli-test", entries[0].Scenario)
	assert.Equal(t, int64(6), entries[0].Iterations)

	code, stdout, _ = execute(t, "history", "--history-file", historyFile, "--run", entries[0].RunID, "--no-color")
	require.Equal(t, ExitPass, code)
	assert.Contains(t, stdout, "cli-test")
}

func TestHistory_PruneRejectsNegative(t *testing.T) {
	server := orderServer(t, http.StatusAccepted)
	scenario := writeScenario(t, "  http_req_failed: [\"rate==0\"]")
	historyFile := filepath.Join(t.TempDir(), "history.db")

	code, _, stderr := execute(t, "run", scenario,
		"--var", "baseUrl="+server.URL,
		"--history-file", historyFile,
		"--no-color")
	require.Equal(t, ExitPass, code, "stderr: %s", stderr)

	code, _, stderr = execute(t, "history", "--history-file", historyFile, "--prune", "-1")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "--prune must be >= 0")

	code, stdout, _ := execute(t, "history", "--history-file", historyFile, "--json")
	require.Equal(t, ExitPass, code)
	var entries []history.Entry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	assert.Len(t, entries, 1)
}

func TestRun_FailExitCode(t *testing.T) {
	server := orderServer(t, http.StatusServiceUnavailable)
	scenario := writeScenario(t, "  http_req_failed: [\"rate==0\"]")

	code, stdout, _ := execute(t, "run", scenario,
		"--var", "baseUrl="+server.URL,
		"--eval-interval", "50ms",
		"--no-history",
		"-o", "json")
	require.Equal(t, ExitFail, code)

	var data output.ReportData
	require.NoError(t, json.Unmarshal([]byte(stdout), &data))
	assert.Equal(t, "fail", data.Status)
	assert.Equal(t, int64(6), data.Failures)
	assert.Equal(t, int64(6), data.FailureReasons["status 503"])
}

func TestRun_InconclusiveExitCode(t *testing.T) {
	server := orderServer(t, http.StatusAccepted)

	// A checks threshold with no declared checks never gets a sample.
	path := filepath.Join(t.TempDir(), "no-checks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: no-checks
executor: shared-iterations
vus: 1
iterations: 2
thresholds:
  checks: ["rate>0.99"]
request:
  url: "{{baseUrl}}/api/v1/orders"
`), 0644))

	code, stdout, stderr := execute(t, "run", path,
		"--var", "baseUrl="+server.URL,
		"--eval-interval", "50ms",
		"--no-history",
		"-q")
	assert.Equal(t, ExitInconclusive, code, "stderr: %s", stderr)
	assert.Equal(t, "INCONCLUSIVE\n", stdout)
}

func TestRun_OrderRaceScenario(t *testing.T) {
	tests := []struct {
		name   string
		locked bool
	}{
		{"locked", true},
		{"unlocked", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testserver.New(testserver.Options{Locked: tt.locked, CreateDelay: 5 * time.Millisecond})
			ts := httptest.NewServer(srv)
			defer ts.Close()

			code, stdout, stderr := execute(t, "run", filepath.Join("..", "..", "scenarios", "order_race.yaml"),
				"--var", "baseUrl="+ts.URL,
				"--eval-interval", "100ms",
				"--no-history",
				"-q", "-o", "json")
			require.Equal(t, ExitPass, code, "stderr: %s", stderr)

			var data output.ReportData
			require.NoError(t, json.Unmarshal([]byte(stdout), &data))
			assert.Equal(t, int64(100), data.Iterations)
			assert.Equal(t, int64(100), srv.Requests())
			require.Len(t, data.Checks, 2)
			for _, c := range data.Checks {
				assert.Equal(t, int64(100), c.Passes, c.Name)
			}
			if tt.locked {
				assert.Equal(t, 0, srv.Duplicates())
			}
		})
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	code, _, stderr := execute(t, "run", missing)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "failed to read scenario file")

	scenario := writeScenario(t, "  http_req_failed: [\"rate==0\"]")
	code, _, _ = execute(t, "run", scenario, "-o", "html", "--no-history")
	assert.Equal(t, ExitError, code)

	code, _, _ = execute(t, "run", scenario, "--log-level", "loud", "--no-history")
	assert.Equal(t, ExitError, code)
}

func TestRun_ReportFile(t *testing.T) {
	server := orderServer(t, http.StatusAccepted)
	scenario := writeScenario(t, "  http_req_failed: [\"rate==0\"]")
	reportFile := filepath.Join(t.TempDir(), "report.xml")

	code, _, stderr := execute(t, "run", scenario,
		"--var", "baseUrl="+server.URL,
		"--eval-interval", "50ms",
		"--no-history",
		"-q",
		"--out", reportFile)
	require.Equal(t, ExitPass, code, "stderr: %s", stderr)

	data, err := os.ReadFile(reportFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<testsuites>")
	assert.Contains(t, string(data), `name="http_req_failed: rate==0"`)
}

func TestValidate(t *testing.T) {
	scenario := writeScenario(t, "  http_req_duration:\n    - threshold: p(99)<100\n      abortOnFail: true")

	code, stdout, stderr := execute(t, "validate", scenario)
	require.Equal(t, ExitPass, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "is valid")
	assert.Contains(t, stdout, "executor:   shared-iterations")
	assert.Contains(t, stdout, "threshold:  http_req_duration: p(99)<100 (abort on fail)")
	assert.Contains(t, stdout, "check:      status is 202")
}

func TestValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor: constant-arrival-rate\narrivalRate: 0\n"), 0644))

	code, _, stderr := execute(t, "validate", path)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "bad.yaml")
}

func TestValidate_UnknownVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`executor: shared-iterations
vus: 1
iterations: 1
request:
  url: "{{host}}/x"
`), 0644))

	code, _, stderr := execute(t, "validate", path)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown variable(s) host")

	code, _, _ = execute(t, "validate", path, "--var", "host=http://localhost")
	assert.Equal(t, ExitPass, code)
}

func TestHistory_Empty(t *testing.T) {
	code, stdout, _ := execute(t, "history", "--history-file", filepath.Join(t.TempDir(), "h.db"))
	assert.Equal(t, ExitPass, code)
	assert.Equal(t, "No runs recorded.\n", stdout)
}

func TestRootHelp(t *testing.T) {
	code, stdout, _ := execute(t, "--help")
	assert.Equal(t, ExitPass, code)
	assert.Contains(t, stdout, "Exit codes:")
}
