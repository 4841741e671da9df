package procsource

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BufferObserver receives high-water-mark fill readings for a named
// read buffer. internal/health.Monitor implements this interface; a
// nil observer disables reporting.
type BufferObserver interface {
	Update(kind string, usedKB int)
}

// noopObserver satisfies BufferObserver without reporting anything.
type noopObserver struct{}

func (noopObserver) Update(string, int) {}

// FSConfig sizes the per-call read buffers used by FSSource. All sizes
// are in kilobytes; a zero value falls back to a conservative default.
type FSConfig struct {
	Root                string
	IOBufferKB          int
	SmapsBufferKB       int
	SmapsRollupBufferKB int
	Observer            BufferObserver
}

const (
	defaultIOBufferKB          = 4
	defaultSmapsBufferKB       = 64
	defaultSmapsRollupBufferKB = 2
)

// FSSource reads the live kernel process filesystem, normally rooted
// at /proc. Reads use a per-call buffer sized by FSConfig; buffer
// high-water marks are reported to Observer so HealthMonitor can flag
// buffers running close to capacity.
type FSSource struct {
	root     string
	ioKB     int
	smapsKB  int
	rollupKB int
	observer BufferObserver
}

// NewFSSource constructs a live FSSource. An empty cfg.Root defaults
// to "/proc".
func NewFSSource(cfg FSConfig) *FSSource {
	root := cfg.Root
	if root == "" {
		root = "/proc"
	}
	ioKB := cfg.IOBufferKB
	if ioKB <= 0 {
		ioKB = defaultIOBufferKB
	}
	smapsKB := cfg.SmapsBufferKB
	if smapsKB <= 0 {
		smapsKB = defaultSmapsBufferKB
	}
	rollupKB := cfg.SmapsRollupBufferKB
	if rollupKB <= 0 {
		rollupKB = defaultSmapsRollupBufferKB
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &FSSource{root: root, ioKB: ioKB, smapsKB: smapsKB, rollupKB: rollupKB, observer: observer}
}

func (s *FSSource) pidPath(pid int, name string) string {
	return fmt.Sprintf("%s/%d/%s", s.root, pid, name)
}

// readFile reads path into a buffer preallocated to capacityKB,
// reporting the number of whole KB read to the observer under kind
// (the observer derives the fill percentage). Translates os errors into the
// ProcSource error taxonomy.
func (s *FSSource) readFile(path, kind string, capacityKB int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	defer f.Close()

	buf := make([]byte, 0, capacityKB*1024)
	chunk := make([]byte, 4096)
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	s.observer.Update(kind, len(buf)/1024)
	return buf, nil
}

func classifyOpenErr(err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrMissing, err)
	}
	if os.IsPermission(err) {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// ListPIDs enumerates numeric entries under the process root.
func (s *FSSource) ListPIDs() ([]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("procsource: list pids: %w", err)
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// ReadName returns the short command name for pid.
func (s *FSSource) ReadName(pid int) (string, error) {
	data, err := s.readFile(s.pidPath(pid, "comm"), "io", s.ioKB)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// ReadCmdline returns the full argument vector joined with single
// spaces.
func (s *FSSource) ReadCmdline(pid int) (string, error) {
	data, err := s.readFile(s.pidPath(pid, "cmdline"), "io", s.ioKB)
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimRight(string(data), "\x00")
	if trimmed == "" {
		return "", nil
	}
	parts := strings.Split(trimmed, "\x00")
	return strings.Join(parts, " "), nil
}

// ReadMemorySummary returns smaps_rollup content when present. A
// missing file (ErrMissing from the OS, i.e. the kernel doesn't expose
// the rollup) is reported as ok=false, err=nil rather than an error,
// so callers can fall back without treating it as a scan failure.
func (s *FSSource) ReadMemorySummary(pid int) ([]byte, bool, error) {
	data, err := s.readFile(s.pidPath(pid, "smaps_rollup"), "smaps_rollup", s.rollupKB)
	if err != nil {
		if errors.Is(err, ErrMissing) {
			// Ambiguous between "pid exited" and "kernel has no
			// smaps_rollup"; either way the caller falls back to
			// ReadMemoryDetail, which will itself report ErrMissing
			// if the pid is truly gone.
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// ReadMemoryDetail returns the full smaps content.
func (s *FSSource) ReadMemoryDetail(pid int) ([]byte, error) {
	return s.readFile(s.pidPath(pid, "smaps"), "smaps", s.smapsKB)
}

// ReadCPUStat parses /proc/[pid]/stat for utime, stime, and starttime.
func (s *FSSource) ReadCPUStat(pid int) (CPUStat, error) {
	data, err := s.readFile(s.pidPath(pid, "stat"), "io", s.ioKB)
	if err != nil {
		return CPUStat{}, err
	}
	raw := string(data)
	closeParen := strings.LastIndex(raw, ")")
	if closeParen < 0 || closeParen+2 > len(raw) {
		return CPUStat{}, fmt.Errorf("%w: stat for pid %d", ErrMalformed, pid)
	}
	fields := strings.Fields(raw[closeParen+2:])
	// fields[0] = state, ... fields[11] = utime, fields[12] = stime,
	// fields[19] = starttime (indices relative to the field after comm).
	if len(fields) < 20 {
		return CPUStat{}, fmt.Errorf("%w: too few stat fields for pid %d", ErrMalformed, pid)
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	start, err3 := strconv.ParseUint(fields[19], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return CPUStat{}, fmt.Errorf("%w: parse stat fields for pid %d", ErrMalformed, pid)
	}
	return CPUStat{UtimeTicks: utime, StimeTicks: stime, StartTimeTicks: start}, nil
}
