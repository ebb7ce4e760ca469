package dispatch

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type brokenWriter struct {
	writes int
}

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestPrinterLogsFirstWriteFailureOnly(t *testing.T) {
	var logs bytes.Buffer
	w := &brokenWriter{}
	p := newPrinter(w, zerolog.New(&logs))

	p.announce(Target{Address: "10.0.0.1"})
	p.execution(ExecutionResult{Stdout: []byte("done")})
	p.failure(Target{Address: "10.0.0.1"}, errors.New("boom"))

	if w.writes != 3 {
		t.Fatalf("expected every block to be attempted, got %d writes", w.writes)
	}
	if n := strings.Count(logs.String(), "console write failed"); n != 1 {
		t.Fatalf("expected one logged failure, got %d:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "broken pipe") {
		t.Fatalf("log lost the cause:\n%s", logs.String())
	}
}

func TestPrinterOrdersStderrBeforeStdout(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, zerolog.Nop())

	p.execution(ExecutionResult{Stdout: []byte("out"), Stderr: []byte("err\n")})
	p.execution(ExecutionResult{})

	if got := out.String(); got != "err\nout\n" {
		t.Fatalf("unexpected block: %q", got)
	}
}
