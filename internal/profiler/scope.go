package profiler

// ZoneOption configures a zone opened by Zone.
type ZoneOption func(*zoneOptions)

type zoneOptions struct {
	color    uint32
	category string
}

// WithColor sets the zone's packed 0xRRGGBBAA color.
func WithColor(color uint32) ZoneOption {
	return func(o *zoneOptions) {
		o.color = color
	}
}

// WithCategory sets the zone's category.
func WithCategory(category string) ZoneOption {
	return func(o *zoneOptions) {
		o.category = category
	}
}

// Zone is an open zone returned by Profiler.Zone. Call End exactly once,
// on the goroutine that opened it, typically via defer.
type Zone struct {
	p   *Profiler
	log *threadLog
}

// Zone opens a zone on the calling goroutine.
//
//	defer p.Zone("physics", profiler.WithCategory("sim")).End()
//
// If the goroutine's log is full the start is dropped and End becomes a
// no-op, so a dropped inner zone never finalizes its enclosing zone.
func (p *Profiler) Zone(name string, opts ...ZoneOption) Zone {
	o := zoneOptions{color: DefaultColor}
	for _, opt := range opts {
		opt(&o)
	}

	l := p.registry.current()
	if !p.pushStart(l, name, o.color, o.category) {
		return Zone{}
	}

	return Zone{p: p, log: l}
}

// End finalizes the zone.
func (z Zone) End() {
	if z.p == nil {
		return
	}

	z.p.pushEnd(z.log)
}

// Frame is an open frame returned by Profiler.Frame.
type Frame struct {
	p *Profiler
}

// Frame begins a frame. The returned Frame's End merges it.
//
//	f := p.Frame()
//	defer f.End()
func (p *Profiler) Frame() Frame {
	p.BeginFrame()

	return Frame{p: p}
}

// End ends the frame and returns its summary.
func (f Frame) End() FrameSummary {
	return f.p.EndFrame()
}
