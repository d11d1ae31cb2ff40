// Package buffermap implements C3: rewriting per-switch buffer ids into a
// flat virtual namespace and caching the buffered packet bytes until a
// downstream PACKET_OUT or FLOW_MOD consumes them (spec.md §3, §4.3).
package buffermap

import (
	"strconv"
	"sync"

	cmap "github.com/streamrail/concurrent-map"
)

// Entry is a buffered packet awaiting consumption.
type Entry struct {
	Data []byte
	DPID uint64
}

// Map owns the buffer-id namespace. A virtual buffer id is single-use:
// consuming it (Take) removes the entry (spec.md §8 invariant).
type Map struct {
	mu      sync.Mutex
	counter uint32
	entries cmap.ConcurrentMap // buffer id (string) -> Entry
}

func New() *Map {
	return &Map{entries: cmap.New()}
}

func key(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Allocate stores data from dpid under a fresh virtual buffer id, for a
// PACKET_IN from a non-transit port (spec.md §4.3).
func (m *Map) Allocate(dpid uint64, data []byte) uint32 {
	m.mu.Lock()
	m.counter++
	id := m.counter
	m.mu.Unlock()

	m.entries.Set(key(id), Entry{Data: data, DPID: dpid})
	return id
}

// Take consumes and removes the entry for id, if present.
func (m *Map) Take(id uint32) (Entry, bool) {
	e, ok := m.entries.Get(key(id))
	if !ok {
		return Entry{}, false
	}
	m.entries.Remove(key(id))
	return e.(Entry), true
}

// ReleaseDatapath drops every buffered entry whose originating switch is
// dpid (session loss of the originating switch, spec.md §3).
func (m *Map) ReleaseDatapath(dpid uint64) {
	var toDrop []string
	for item := range m.entries.IterBuffered() {
		if item.Val.(Entry).DPID == dpid {
			toDrop = append(toDrop, item.Key)
		}
	}
	for _, k := range toDrop {
		m.entries.Remove(k)
	}
}
