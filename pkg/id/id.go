package id

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID is a time-ordered message id.
type ID [16]byte

// Nil is the zero ID.
var Nil ID

// String returns the 8-4-4-4-12 hex form.
func (i ID) String() string { return uuid.UUID(i).String() }

// Time returns the millisecond timestamp embedded in i.
func (i ID) Time() time.Time {
	var b [8]byte
	copy(b[2:], i[0:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b[:])))
}

// Compare orders ids bytewise, which is creation order within a node.
func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

// Parse reads an id in any form uuid.Parse accepts.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: %w", err)
	}
	return ID(u), nil
}

const maxMs = 1<<48 - 1

// Generator produces ids for one instance.
type Generator struct {
	mu     sync.Mutex
	node   [8]byte
	lastMs int64
	seq    uint16
}

// NewGenerator returns a Generator with a random node value.
func NewGenerator() *Generator {
	g := &Generator{}
	u := uuid.New()
	copy(g.node[:], u[8:])
	return g
}

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns the next id.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	switch {
	case ms > g.lastMs:
		g.seq = 0
	case g.seq == math.MaxUint16:
		ms = g.lastMs + 1
		g.seq = 0
	default:
		ms = g.lastMs
		g.seq++
	}
	g.lastMs = ms
	return g.make(ms)
}

func (g *Generator) make(ms int64) ID {
	var id ID
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ms)&maxMs)
	copy(id[0:6], ts[2:])
	binary.BigEndian.PutUint16(id[6:8], g.seq)
	copy(id[8:], g.node[:])
	return id
}
