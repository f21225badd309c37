package profiler

// Default is the process-wide profiler used by the package-level functions.
var Default = New(DefaultConfig())

// BeginFrame calls Default.BeginFrame.
func BeginFrame() { Default.BeginFrame() }

// EndFrame calls Default.EndFrame.
func EndFrame() FrameSummary { return Default.EndFrame() }

// Events calls Default.Events.
func Events() []Event { return Default.Events() }

// PushStart calls Default.PushStart.
func PushStart(name string, color uint32, category string) {
	Default.PushStart(name, color, category)
}

// PushEnd calls Default.PushEnd.
func PushEnd() { Default.PushEnd() }

// ZoneScope opens a zone on Default.
func ZoneScope(name string, opts ...ZoneOption) Zone {
	return Default.Zone(name, opts...)
}

// FrameScope begins a frame on Default.
func FrameScope() Frame { return Default.Frame() }

// SetThreadName calls Default.SetThreadName.
func SetThreadName(name string) { Default.SetThreadName(name) }

// ThreadName calls Default.ThreadName.
func ThreadName(id ThreadID) string { return Default.ThreadName(id) }
