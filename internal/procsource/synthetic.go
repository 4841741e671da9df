package procsource

import "fmt"

// FakeProcess is one fixture process served by a Synthetic source.
type FakeProcess struct {
	PID            int
	Name           string
	Cmdline        string
	SmapsRollup    []byte // nil => kernel doesn't expose the rollup
	Smaps          []byte
	UtimeTicks     uint64
	StimeTicks     uint64
	StartTimeTicks uint64
	Exited         bool // if true, every read returns ErrMissing
	Unreadable     bool // if true, every read returns ErrPermission
}

// Synthetic is an in-memory ProcSource used by tests and by the
// seed scenarios in spec.md §8. It never touches the filesystem.
type Synthetic struct {
	procs map[int]FakeProcess
}

// NewSynthetic builds a Synthetic source from a fixed set of fixtures.
func NewSynthetic(procs []FakeProcess) *Synthetic {
	m := make(map[int]FakeProcess, len(procs))
	for _, p := range procs {
		m[p.PID] = p
	}
	return &Synthetic{procs: m}
}

// Set replaces or adds a single fixture, letting tests mutate state
// between successive scans to exercise CPU-delta and pid-reuse paths.
func (s *Synthetic) Set(p FakeProcess) {
	s.procs[p.PID] = p
}

// Remove deletes a fixture, simulating a pid that has exited and been
// reaped entirely (no longer enumerated at all).
func (s *Synthetic) Remove(pid int) {
	delete(s.procs, pid)
}

func (s *Synthetic) lookup(pid int) (FakeProcess, error) {
	p, ok := s.procs[pid]
	if !ok {
		return FakeProcess{}, fmt.Errorf("%w: pid %d", ErrMissing, pid)
	}
	if p.Exited {
		return FakeProcess{}, fmt.Errorf("%w: pid %d", ErrMissing, pid)
	}
	if p.Unreadable {
		return FakeProcess{}, fmt.Errorf("%w: pid %d", ErrPermission, pid)
	}
	return p, nil
}

// ListPIDs returns every fixture's pid, in map-iteration (unspecified) order.
func (s *Synthetic) ListPIDs() ([]int, error) {
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	return pids, nil
}

func (s *Synthetic) ReadName(pid int) (string, error) {
	p, err := s.lookup(pid)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

func (s *Synthetic) ReadCmdline(pid int) (string, error) {
	p, err := s.lookup(pid)
	if err != nil {
		return "", err
	}
	return p.Cmdline, nil
}

func (s *Synthetic) ReadMemorySummary(pid int) ([]byte, bool, error) {
	p, err := s.lookup(pid)
	if err != nil {
		return nil, false, err
	}
	if p.SmapsRollup == nil {
		return nil, false, nil
	}
	return p.SmapsRollup, true, nil
}

func (s *Synthetic) ReadMemoryDetail(pid int) ([]byte, error) {
	p, err := s.lookup(pid)
	if err != nil {
		return nil, err
	}
	return p.Smaps, nil
}

func (s *Synthetic) ReadCPUStat(pid int) (CPUStat, error) {
	p, err := s.lookup(pid)
	if err != nil {
		return CPUStat{}, err
	}
	return CPUStat{
		UtimeTicks:     p.UtimeTicks,
		StimeTicks:     p.StimeTicks,
		StartTimeTicks: p.StartTimeTicks,
	}, nil
}
