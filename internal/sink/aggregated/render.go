package aggregated

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"

	"github.com/ethpandaops/chronoprof/internal/export"
	"github.com/ethpandaops/chronoprof/internal/profiler"
)

const (
	barBlock     = "█"
	blocksPerMs  = 10
	numericWidth = 10
)

// Renderer draws the latest frame as duration bars followed by a table of
// aggregated zone statistics.
type Renderer struct {
	out     io.Writer
	cfg     Config
	colored bool

	header *color.Color
	thread *color.Color
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, cfg Config) *Renderer {
	cfg.ApplyDefaults()

	r := &Renderer{
		out:     out,
		cfg:     cfg,
		colored: colorEnabled(cfg.Color, out),
		header:  color.New(color.FgCyan, color.Bold),
		thread:  color.New(color.FgHiBlack),
	}

	r.apply(r.header)
	r.apply(r.thread)

	return r
}

// colorEnabled resolves a colour mode against the output. Auto only
// colours terminals.
func colorEnabled(mode string, out io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}

	f, ok := out.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *Renderer) apply(c *color.Color) *color.Color {
	if r.colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c
}

// Render writes the latest frame and the all-time statistics held by c.
func (r *Renderer) Render(c *Collector) error {
	var b strings.Builder

	r.header.Fprintf(&b, "=== Frame %d ===\n", c.TotalFrames())

	if f, ok := c.Latest(); ok {
		r.writeFrame(&b, f)
	}

	b.WriteString("\n")
	r.writeStats(&b, c.Stats())

	_, err := io.WriteString(r.out, b.String())

	return err
}

// RenderFrame writes one frame as duration bars.
func (r *Renderer) RenderFrame(f export.Frame) error {
	var b strings.Builder

	r.writeFrame(&b, f)

	_, err := io.WriteString(r.out, b.String())

	return err
}

// RenderStats writes a statistics table.
func (r *Renderer) RenderStats(stats []ZoneStats) error {
	var b strings.Builder

	r.writeStats(&b, stats)

	_, err := io.WriteString(r.out, b.String())

	return err
}

func (r *Renderer) writeFrame(b *strings.Builder, f export.Frame) {
	for _, rec := range f.Records {
		b.WriteString(r.cell(rec.Name))
		b.WriteString(" ")
		b.WriteString(r.bar(rec))
		fmt.Fprintf(b, " %.2f ms ", rec.DurationMs)
		b.WriteString(r.thread.Sprintf("[%s]", rec.ThreadName))
		b.WriteString("\n")
	}
}

func (r *Renderer) writeStats(b *strings.Builder, stats []ZoneStats) {
	r.header.Fprintln(b, "-- Aggregated Stats --")

	r.header.Fprintf(b, "%s%*s%*s%*s%*s\n",
		r.cell("Zone"),
		numericWidth, "Avg(ms)",
		numericWidth, "Max(ms)",
		numericWidth, "P95(ms)",
		numericWidth, "Count",
	)

	if r.cfg.TopN > 0 && len(stats) > r.cfg.TopN {
		stats = stats[:r.cfg.TopN]
	}

	for _, s := range stats {
		fmt.Fprintf(b, "%s%*.2f%*.2f%*.2f%*d\n",
			r.cell(s.Name),
			numericWidth, durationMs(s.Avg),
			numericWidth, durationMs(s.Max),
			numericWidth, durationMs(s.P95),
			numericWidth, s.Count,
		)
	}
}

// cell truncates or pads name to the configured display width.
func (r *Renderer) cell(name string) string {
	w := r.cfg.NameWidth
	if runewidth.StringWidth(name) > w {
		name = runewidth.Truncate(name, w, "…")
	}

	return runewidth.FillRight(name, w)
}

// bar draws durationMs*10 blocks, capped at MaxBar, in the zone's colour.
func (r *Renderer) bar(rec export.Record) string {
	n := BarLength(rec.DurationMs, r.cfg.MaxBar)
	if n == 0 {
		return ""
	}

	s := strings.Repeat(barBlock, n)
	if !r.colored || rec.Color == profiler.DefaultColor {
		return s
	}

	c := color.RGB(int(rec.Color>>24&0xFF), int(rec.Color>>16&0xFF), int(rec.Color>>8&0xFF))
	c.EnableColor()

	return c.Sprint(s)
}

// BarLength returns the number of blocks drawn for a zone duration.
func BarLength(durationMs float64, maxBar int) int {
	n := int(durationMs * blocksPerMs)
	if n < 0 {
		return 0
	}

	if maxBar > 0 && n > maxBar {
		return maxBar
	}

	return n
}
