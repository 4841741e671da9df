// Package health tracks fill-level readings for the tunable read
// buffers (io, smaps, smaps_rollup) against configured warn/critical
// thresholds, per spec.md §4.8. It implements procsource.BufferObserver
// so the FSSource can report high-water marks as it reads.
package health

import "sync"

// Status is one buffer's or the overall health verdict.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarn     Status = "warn"
	StatusCritical Status = "critical"
)

// BufferConfig is one buffer's static threshold configuration.
type BufferConfig struct {
	Name            string
	CapacityKB      int
	WarnPercent     float64
	CriticalPercent float64
	// LargerIsBetter inverts the comparison for buffers where running
	// low is the failure mode rather than running out of headroom.
	// Defaults to false (the common case: overrun is the failure mode).
	LargerIsBetter bool
}

// BufferStatus is one buffer's point-in-time reading.
type BufferStatus struct {
	Name        string
	CapacityKB  int
	UsedKB      int
	FillPercent float64
	Status      Status
}

// Report is the full health snapshot rendered by the /health endpoint.
type Report struct {
	Buffers       []BufferStatus
	OverallStatus Status
}

type bufferState struct {
	cfg    BufferConfig
	usedKB int
}

// Monitor holds the configured buffers and their latest readings.
// Updates are cheap (a mutex-guarded map write); Get takes a
// consistent snapshot under the same mutex, per spec.md §5's "atomic
// update per buffer; reads take a consistent snapshot via a short
// mutex".
type Monitor struct {
	mu      sync.Mutex
	order   []string
	buffers map[string]*bufferState
}

// NewMonitor constructs a Monitor from its static buffer configs.
func NewMonitor(cfgs []BufferConfig) *Monitor {
	m := &Monitor{buffers: make(map[string]*bufferState, len(cfgs))}
	for _, cfg := range cfgs {
		m.buffers[cfg.Name] = &bufferState{cfg: cfg}
		m.order = append(m.order, cfg.Name)
	}
	return m
}

// Update records the latest fill level for a named buffer. Unknown
// buffer names are ignored; the FSSource and the Monitor's configured
// buffer set are expected to agree, but a Monitor built with a subset
// of buffers (e.g. in a test) should not panic on the rest.
func (m *Monitor) Update(kind string, usedKB int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[kind]; ok {
		b.usedKB = usedKB
	}
}

// Get computes the current status of every buffer plus the overall
// status (the worst of all buffers).
func (m *Monitor) Get() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{Buffers: make([]BufferStatus, 0, len(m.order)), OverallStatus: StatusOK}
	for _, name := range m.order {
		b := m.buffers[name]
		bs := bufferStatusOf(b)
		report.Buffers = append(report.Buffers, bs)
		if worse(bs.Status, report.OverallStatus) {
			report.OverallStatus = bs.Status
		}
	}
	return report
}

func bufferStatusOf(b *bufferState) BufferStatus {
	fillPercent := 0.0
	if b.cfg.CapacityKB > 0 {
		fillPercent = 100 * float64(b.usedKB) / float64(b.cfg.CapacityKB)
	}
	return BufferStatus{
		Name:        b.cfg.Name,
		CapacityKB:  b.cfg.CapacityKB,
		UsedKB:      b.usedKB,
		FillPercent: fillPercent,
		Status:      statusFor(fillPercent, b.cfg),
	}
}

func statusFor(fillPercent float64, cfg BufferConfig) Status {
	if cfg.LargerIsBetter {
		switch {
		case fillPercent < cfg.CriticalPercent:
			return StatusCritical
		case fillPercent < cfg.WarnPercent:
			return StatusWarn
		default:
			return StatusOK
		}
	}
	switch {
	case fillPercent >= cfg.CriticalPercent:
		return StatusCritical
	case fillPercent >= cfg.WarnPercent:
		return StatusWarn
	default:
		return StatusOK
	}
}

func worse(a, b Status) bool {
	return rank(a) > rank(b)
}

func rank(s Status) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}
