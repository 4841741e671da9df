// Package procsource abstracts the kernel process information
// pseudo-filesystem. It has two concrete backings: a live filesystem
// source rooted at /proc (or a configurable root for testing) and a
// synthetic source that serves fixtures held entirely in memory.
package procsource

import "errors"

// Sentinel errors distinguishing the three read-failure classes a
// ProcSource reader can return. Missing is transient and expected
// (the pid exited between enumeration and read); Permission is
// reported once per scan, never per pid; Malformed means the kernel
// handed back content the reader could not parse.
var (
	ErrMissing    = errors.New("procsource: pid not found")
	ErrPermission = errors.New("procsource: permission denied")
	ErrMalformed  = errors.New("procsource: malformed content")
)

// CPUStat is the subset of /proc/[pid]/stat this exporter consumes.
type CPUStat struct {
	UtimeTicks     uint64
	StimeTicks     uint64
	StartTimeTicks uint64
}

// Source enumerates pids and reads their per-process kernel files.
// Every reader method returns one of ErrMissing, ErrPermission, or
// ErrMalformed (wrapped, so errors.Is still matches) on failure.
type Source interface {
	// ListPIDs enumerates the numeric directory entries under the
	// process root. Ordering is unspecified.
	ListPIDs() ([]int, error)

	// ReadName returns the short command name for pid, trailing
	// newline stripped.
	ReadName(pid int) (string, error)

	// ReadCmdline returns the full argument vector joined with a
	// single space; NUL separators are replaced and any trailing
	// separator trimmed. Kernel threads report an empty string, which
	// is a valid, non-error result.
	ReadCmdline(pid int) (string, error)

	// ReadMemorySummary returns the consolidated mapping summary
	// (smaps_rollup) when the kernel exposes it. A false second
	// return value (with a nil error) means no summary could be read
	// for this pid: the kernel does not expose it, or, for FSSource,
	// the pid may also have exited (the two are not told apart).
	ReadMemorySummary(pid int) (raw []byte, ok bool, err error)

	// ReadMemoryDetail returns the full per-mapping file (smaps),
	// used as a fallback when ReadMemorySummary reports !ok.
	ReadMemoryDetail(pid int) ([]byte, error)

	// ReadCPUStat returns utime/stime/start_time ticks parsed from the
	// process status line.
	ReadCPUStat(pid int) (CPUStat, error)
}
