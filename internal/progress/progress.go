// Package progress reports how far a stage loop has got. Stages only talk to
// the Reporter interface; the terminal renderer runs on its own goroutine.
package progress

import (
	"io"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Reporter receives stage progress. Start and Finish bracket one loop.
type Reporter interface {
	Start(total int, title string)
	Advance(label string)
	Finish()
}

// Nop discards progress.
type Nop struct{}

func (Nop) Start(int, string) {}
func (Nop) Advance(string)    {}
func (Nop) Finish()           {}

// Bar draws a bubbletea progress bar to a terminal.
type Bar struct {
	out    io.Writer
	logger *slog.Logger

	mu   sync.Mutex
	prog *tea.Program
	done chan struct{}
}

// NewBar returns a Bar writing to out (usually os.Stderr).
func NewBar(out io.Writer, logger *slog.Logger) *Bar {
	return &Bar{out: out, logger: logger}
}

// Start launches the renderer for a loop of total items, finishing any loop
// still running.
func (b *Bar) Start(total int, title string) {
	b.Finish()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prog = tea.NewProgram(newStageModel(title, total),
		tea.WithOutput(b.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	b.done = make(chan struct{})
	go func(p *tea.Program, done chan struct{}) {
		defer close(done)
		if _, err := p.Run(); err != nil {
			b.logger.Debug("Progress renderer stopped.", "error", err)
		}
	}(b.prog, b.done)
}

// Advance marks one item as handled.
func (b *Bar) Advance(label string) {
	b.mu.Lock()
	p := b.prog
	b.mu.Unlock()
	if p != nil {
		p.Send(advanceMsg{label: label})
	}
}

// Finish stops the renderer and waits for it to restore the terminal.
func (b *Bar) Finish() {
	b.mu.Lock()
	p, done := b.prog, b.done
	b.prog, b.done = nil, nil
	b.mu.Unlock()
	if p == nil {
		return
	}
	p.Send(finishMsg{})
	<-done
}
