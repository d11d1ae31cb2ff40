// Package portmap implements C1: the virtual port namespace. Every port
// number a controller sees is either an OpenFlow reserved constant or a
// virtual port allocated here, injectively mapped to a single (dpid,
// physical port) pair (spec.md §3, §4.1).
package portmap

import (
	"fmt"
	"sync"

	cmap "github.com/streamrail/concurrent-map"

	"github.com/crotsos/flowvisor/internal/ofp10"
)

// Physical identifies a port on a physical switch.
type Physical struct {
	DPID uint64
	Port uint16
}

// Entry is what the port map remembers for a virtual port.
type Entry struct {
	Physical   Physical
	Descriptor ofp10.PhyPort // cached, Number already rewritten to the virtual port
}

// Map owns the virtual<->physical translation. Mutation happens only at
// well-defined points (spec.md §5); the concurrent map lets readers on
// other goroutines (e.g. a concurrent stats aggregation) avoid blocking on
// those mutations the way a single mutex around the whole table would.
type Map struct {
	mu      sync.Mutex // guards counter and the injectivity check
	counter uint16
	byVirt  cmap.ConcurrentMap // virtual port (string key) -> Entry
	byPhys  cmap.ConcurrentMap // "dpid:port" -> virtual port (string)
}

func New() *Map {
	return &Map{
		counter: ofp10.FirstVirtualPort,
		byVirt:  cmap.New(),
		byPhys:  cmap.New(),
	}
}

func physKey(dpid uint64, port uint16) string {
	return fmt.Sprintf("%d:%d", dpid, port)
}

func virtKey(v uint16) string {
	return fmt.Sprintf("%d", v)
}

// AddPort allocates the next virtual port for (dpid, phys), caching desc
// with its Number rewritten to the newly allocated virtual port. A (dpid,
// phys) that is already mapped keeps its virtual port and only has its
// cached descriptor refreshed. Returns an error once the virtual space
// (10..ofp10.PMax-1) is exhausted.
func (m *Map) AddPort(dpid uint64, phys uint16, desc ofp10.PhyPort) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byPhys.Get(physKey(dpid, phys)); ok {
		v := existing.(uint16)
		desc.Number = v
		m.byVirt.Set(virtKey(v), Entry{Physical: Physical{DPID: dpid, Port: phys}, Descriptor: desc})
		return v, nil
	}

	if m.counter >= ofp10.PMax {
		return 0, fmt.Errorf("portmap: virtual port space exhausted")
	}
	v := m.counter
	m.counter++

	desc.Number = v
	m.byVirt.Set(virtKey(v), Entry{Physical: Physical{DPID: dpid, Port: phys}, Descriptor: desc})
	m.byPhys.Set(physKey(dpid, phys), v)
	return v, nil
}

// RemovePort releases the virtual port mapped to (dpid, phys), if any.
func (m *Map) RemovePort(dpid uint64, phys uint16) (uint16, bool) {
	pk := physKey(dpid, phys)
	vRaw, ok := m.byPhys.Get(pk)
	if !ok {
		return 0, false
	}
	v := vRaw.(uint16)
	m.byPhys.Remove(pk)
	m.byVirt.Remove(virtKey(v))
	return v, true
}

// RemoveDatapath releases every virtual port owned by dpid (used on
// DATAPATH_LEAVE, spec.md §4.9). Returns the removed virtual ports.
func (m *Map) RemoveDatapath(dpid uint64) []uint16 {
	var removed []uint16
	for item := range m.byVirt.IterBuffered() {
		entry := item.Val.(Entry)
		if entry.Physical.DPID == dpid {
			removed = append(removed, entry.Descriptor.Number)
		}
	}
	for _, v := range removed {
		if e, ok := m.byVirt.Get(virtKey(v)); ok {
			entry := e.(Entry)
			m.byPhys.Remove(physKey(entry.Physical.DPID, entry.Physical.Port))
		}
		m.byVirt.Remove(virtKey(v))
	}
	return removed
}

// VirtOfPhys returns the virtual port mapped to (dpid, phys), if any.
func (m *Map) VirtOfPhys(dpid uint64, phys uint16) (uint16, bool) {
	vRaw, ok := m.byPhys.Get(physKey(dpid, phys))
	if !ok {
		return 0, false
	}
	return vRaw.(uint16), true
}

// PhysOfVirt returns the (dpid, phys) pair backing a virtual port, if any.
func (m *Map) PhysOfVirt(v uint16) (Physical, bool) {
	e, ok := m.byVirt.Get(virtKey(v))
	if !ok {
		return Physical{}, false
	}
	return e.(Entry).Physical, true
}

// PhysOfVirtStrict is PhysOfVirt but fails with ACTION_BAD_OUT_PORT when v
// is absent, for translating controller-supplied ports that must exist
// (spec.md §4.1).
func (m *Map) PhysOfVirtStrict(v uint16) (Physical, error) {
	p, ok := m.PhysOfVirt(v)
	if !ok {
		return Physical{}, ofp10.NewError(0, ofp10.ErrTypeActionFailed, ofp10.CodeActionBadOutPort, nil)
	}
	return p, nil
}

// Descriptor returns the cached port descriptor for a virtual port.
func (m *Map) Descriptor(v uint16) (ofp10.PhyPort, bool) {
	e, ok := m.byVirt.Get(virtKey(v))
	if !ok {
		return ofp10.PhyPort{}, false
	}
	return e.(Entry).Descriptor, true
}

// AllDescriptors returns every live virtual port's descriptor, for
// FEATURES_REPLY (spec.md §4.8).
func (m *Map) AllDescriptors() []ofp10.PhyPort {
	var ports []ofp10.PhyPort
	for item := range m.byVirt.IterBuffered() {
		ports = append(ports, item.Val.(Entry).Descriptor)
	}
	return ports
}
