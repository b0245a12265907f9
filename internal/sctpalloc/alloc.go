// Package sctpalloc implements the per-Transport SCTP stream-id bitmap
// allocator DataConsumer creation draws from (spec.md §5 "SCTP stream
// ids are allocated from a bitmap indexed by MIS; allocation is
// mod-MIS, skipping set bits; release sets the bit back to 0").
// Allocated ids are expressed as pion/sctp's StreamIdentifier so the
// rest of the control plane never juggles bare integers where the
// data-plane package already has a named type for them.
package sctpalloc

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/sctp"
)

// Bitmap tracks which of a transport's [0, mis) SCTP stream ids are in
// use. Safe for concurrent use: every method holds the Bitmap's own
// mutex.
type Bitmap struct {
	mu   sync.Mutex
	mis  int
	used []bool
	next int
	log  logging.LeveledLogger
}

// New returns a Bitmap sized for mis streams, logging allocation
// exhaustion and release-of-unused-id mistakes through a pion/logging
// default leveled logger so stream bookkeeping shows up alongside
// whatever pion component is consuming the allocated ids.
func New(mis int) *Bitmap {
	return &Bitmap{
		mis:  mis,
		used: make([]bool, mis),
		log:  logging.NewDefaultLoggerFactory().NewLogger("sctpalloc"),
	}
}

// Allocate returns the next free stream id, scanning mod-MIS starting
// just after the last allocation, skipping ids already in use.
func (b *Bitmap) Allocate() (sctp.StreamIdentifier, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mis == 0 {
		return 0, fmt.Errorf("sctpalloc: no SCTP streams configured")
	}

	for i := 0; i < b.mis; i++ {
		id := (b.next + i) % b.mis
		if !b.used[id] {
			b.used[id] = true
			b.next = (id + 1) % b.mis
			b.log.Debugf("allocated sctp stream id %d", id)
			return sctp.StreamIdentifier(id), nil
		}
	}
	b.log.Warnf("sctp stream ids exhausted (mis=%d)", b.mis)
	return 0, fmt.Errorf("sctpalloc: no sctp stream ids available")
}

// Release marks id free again.
func (b *Bitmap) Release(id sctp.StreamIdentifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(id) >= 0 && int(id) < b.mis {
		if !b.used[id] {
			b.log.Warnf("releasing sctp stream id %d that was not allocated", id)
		}
		b.used[id] = false
	}
}
