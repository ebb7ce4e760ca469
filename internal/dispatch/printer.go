package dispatch

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// printer serializes whole blocks onto the shared console so one command's
// output is never torn by another target's.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	logger zerolog.Logger
	failed bool
}

func newPrinter(w io.Writer, logger zerolog.Logger) *printer {
	if w == nil {
		w = io.Discard
	}
	return &printer{w: w, logger: logger}
}

func (p *printer) announce(t Target) {
	p.write(fmt.Sprintf("connecting to %s\n", t.Address))
}

// execution writes stderr first, then stdout. Empty streams are left out.
func (p *printer) execution(e ExecutionResult) {
	var b strings.Builder
	writeStream(&b, e.Stderr)
	writeStream(&b, e.Stdout)
	if b.Len() == 0 {
		return
	}
	p.write(b.String())
}

func (p *printer) failure(t Target, err error) {
	p.write(fmt.Sprintf("error on %s: %v\n", t.Address, err))
}

// write reports only the first failed write; later blocks are still attempted.
func (p *printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, s); err != nil && !p.failed {
		p.failed = true
		p.logger.Error().Err(err).Msg("console write failed")
	}
}

func writeStream(b *strings.Builder, data []byte) {
	if len(data) == 0 {
		return
	}
	b.Write(data)
	if data[len(data)-1] != '\n' {
		b.WriteByte('\n')
	}
}
