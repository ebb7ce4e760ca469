package observability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/benchctl/internal/dispatch"
	"github.com/danmuck/benchctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordCommand(0, 12*time.Millisecond)
	RecordTarget("isolate", dispatch.StatusOK, time.Second)
	RecordRun("isolate", false, time.Now())
}

func TestDispatchRecorderCountsEvents(t *testing.T) {
	testlog.Start(t)

	rec := NewDispatchRecorder(dispatch.PolicyFailFast, zerolog.Nop())
	failedBefore := testutil.ToFloat64(targetsTotal.WithLabelValues("fail-fast", dispatch.StatusFailed))
	okBefore := testutil.ToFloat64(targetsTotal.WithLabelValues("fail-fast", dispatch.StatusOK))
	exitBefore := testutil.ToFloat64(commandsTotal.WithLabelValues("2"))

	target := dispatch.Target{Address: "10.0.0.1"}
	rec.CommandDone(target, dispatch.ExecutionResult{Command: "make test", ExitStatus: 2, Duration: time.Second})
	rec.TargetDone(dispatch.TargetResult{Target: target})
	rec.TargetDone(dispatch.TargetResult{
		Target: dispatch.Target{Address: "10.0.0.2"},
		Err:    errors.New("dial tcp: i/o timeout"),
	})

	assert.Equal(t, exitBefore+1, testutil.ToFloat64(commandsTotal.WithLabelValues("2")))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(targetsTotal.WithLabelValues("fail-fast", dispatch.StatusOK)))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(targetsTotal.WithLabelValues("fail-fast", dispatch.StatusFailed)))

	runsBefore := testutil.ToFloat64(runsTotal.WithLabelValues("fail-fast", "ok"))
	finished := time.Unix(1767323045, 0)
	rec.Finish(dispatch.Report{Finished: finished})
	assert.Equal(t, runsBefore+1, testutil.ToFloat64(runsTotal.WithLabelValues("fail-fast", "ok")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(lastRun))
}

func TestWriteTextfile(t *testing.T) {
	RecordTarget("isolate", dispatch.StatusSkipped, 0)

	path := filepath.Join(t.TempDir(), "textfile", "benchctl.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `benchctl_dispatch_targets_total{policy="isolate",status="skipped"}`), text)
	assert.Contains(t, text, "# TYPE benchctl_dispatch_command_duration_seconds histogram")
}
