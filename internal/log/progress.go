package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Progress renders a single-line progress bar for a scan whose total grows as
// exchanges report their symbol counts. A disabled indicator only counts.
type Progress struct {
	mu        sync.Mutex
	name      string
	out       io.Writer
	enabled   bool
	total     int
	current   int
	startTime time.Time
	now       func() time.Time
}

// NewProgress creates a progress indicator writing to out
func NewProgress(name string, out io.Writer, enabled bool) *Progress {
	return &Progress{
		name:      name,
		out:       out,
		enabled:   enabled,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Add grows the expected total
func (p *Progress) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += n
}

// Increment advances progress by one step
func (p *Progress) Increment(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if p.enabled {
		fmt.Fprint(p.out, p.render(message))
	}
}

// Counts returns completed and expected steps
func (p *Progress) Counts() (current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.total
}

// Finish completes the progress line
func (p *Progress) Finish(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	elapsed := p.now().Sub(p.startTime).Round(time.Millisecond)
	fmt.Fprintf(p.out, "\r\033[K✅ %s: %s (%v)\n", p.name, message, elapsed)
}

// Fail marks the progress as failed
func (p *Progress) Fail(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	elapsed := p.now().Sub(p.startTime).Round(time.Millisecond)
	fmt.Fprintf(p.out, "\r\033[K❌ %s failed: %s (%v)\n", p.name, reason, elapsed)
}

func (p *Progress) render(message string) string {
	var b strings.Builder

	// Clear line and return to beginning
	b.WriteString("\r\033[K")
	b.WriteString(p.name)

	if p.total > 0 {
		const barWidth = 20
		current := min(p.current, p.total)
		filled := barWidth * current / p.total
		b.WriteString(" [")
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&b, "] %d/%d (%.1f%%)", p.current, p.total, float64(current)/float64(p.total)*100)

		if elapsed := p.now().Sub(p.startTime); current > 0 && current < p.total && elapsed > 0 {
			rate := float64(current) / elapsed.Seconds()
			eta := time.Duration(float64(p.total-current)/rate) * time.Second
			fmt.Fprintf(&b, " ETA: %v", eta.Round(time.Second))
		}
	} else {
		fmt.Fprintf(&b, " (%d)", p.current)
	}

	if message != "" {
		b.WriteString(" - ")
		b.WriteString(message)
	}
	return b.String()
}
