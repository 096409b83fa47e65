// Package gpu counts live GPU-disposable resources so teardown can be
// verified to return every count to its baseline.
package gpu

import (
	"log/slog"
	"sync"
)

// Kind identifies a class of disposable resource.
type Kind int

const (
	KindGeometry Kind = iota
	KindMaterial
	KindBuffer
	KindSurface
)

func (k Kind) String() string {
	switch k {
	case KindGeometry:
		return "geometry"
	case KindMaterial:
		return "material"
	case KindBuffer:
		return "buffer"
	case KindSurface:
		return "surface"
	default:
		return "unknown"
	}
}

// Ledger tracks live resource counts by kind. Safe for concurrent use.
// The zero value is ready to use.
type Ledger struct {
	mu   sync.Mutex
	live map[Kind]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{live: make(map[Kind]int)}
}

// Acquire records one more live resource of kind.
func (l *Ledger) Acquire(kind Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live == nil {
		l.live = make(map[Kind]int)
	}
	l.live[kind]++
}

// Release records the disposal of one resource of kind. A release with
// nothing live is logged and ignored.
func (l *Ledger) Release(kind Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.live[kind] == 0 {
		slog.Warn("gpu: release without live resource", "kind", kind.String())
		return
	}
	l.live[kind]--
}

// Live returns the current count for kind.
func (l *Ledger) Live(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live[kind]
}

// Snapshot returns a copy of every non-zero count keyed by kind name.
func (l *Ledger) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.live))
	for k, n := range l.live {
		if n != 0 {
			out[k.String()] = n
		}
	}
	return out
}

// Total returns the sum of all live counts.
func (l *Ledger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.live {
		total += n
	}
	return total
}
