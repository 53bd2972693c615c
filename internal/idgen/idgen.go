// Package idgen produces collision-resistant identifiers from a nanosecond
// clock reading plus an entropy suffix.
//
// Within one process the nanosecond component never repeats: if the clock
// has not advanced since the previous call the last value is bumped by one.
// Across processes the 48-bit random suffix keeps ids apart.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const suffixBytes = 6

// Generator is safe for concurrent use. The zero value reads the wall clock
// and crypto/rand.
type Generator struct {
	Now     func() time.Time
	Entropy io.Reader

	mu       sync.Mutex
	last     int64
	fallback atomic.Uint64
}

var defaultGenerator Generator

// NewID returns "<unix_nanos>_<12 hex>".
func NewID() string { return defaultGenerator.NewID() }

// WorkID returns a work item id: "work_<unix_nanos>_<12 hex>".
func WorkID() string { return defaultGenerator.WorkID() }

// AgentID returns an agent id: "agent_<unix_nanos>_<12 hex>".
func AgentID() string { return defaultGenerator.AgentID() }

func (g *Generator) WorkID() string  { return "work_" + g.NewID() }
func (g *Generator) AgentID() string { return "agent_" + g.NewID() }

func (g *Generator) NewID() string {
	nanos := g.tick()
	return strconv.FormatInt(nanos, 10) + "_" + g.suffix()
}

func (g *Generator) tick() int64 {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	n := now().UnixNano()
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return n
}

func (g *Generator) suffix() string {
	src := g.Entropy
	if src == nil {
		src = rand.Reader
	}
	var buf [suffixBytes]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		// No entropy: pid in the high bytes, a process counter in the low.
		var wide [8]byte
		binary.BigEndian.PutUint16(wide[0:2], uint16(os.Getpid()))
		binary.BigEndian.PutUint32(wide[2:6], uint32(g.fallback.Add(1)))
		copy(buf[:], wide[:suffixBytes])
	}
	return hex.EncodeToString(buf[:])
}
