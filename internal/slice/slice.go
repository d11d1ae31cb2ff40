// Package slice implements C10: the set of (dpid_hint, flow-match filter,
// controller session) triples that determine which controller sees which
// traffic (spec.md §3). Slices are unordered and duplicates are not
// coalesced, so this is a plain append-only list guarded by a mutex
// rather than a map.
package slice

import (
	"sync"

	"github.com/crotsos/flowvisor/internal/ofp10"
)

// Session is the minimal shape the slice registry needs from a
// controller-facing session; the real type lives in internal/switchchan,
// named generically here to avoid a dependency cycle (switchchan needs
// the registry; the registry must not need switchchan).
type Session interface {
	Send(msg ofp10.Message)
	ID() string
}

// Filter is an OpenFlow match together with its own wildcard bits — two
// different slices may wildcard different fields of what otherwise looks
// like the same match (spec.md §3).
type Filter struct {
	Match ofp10.Match
}

// Matches reports whether pkt (itself expressed with full wildcards
// cleared, i.e. every field concrete) falls within f under f's own
// wildcarding. Only dl_type and in_port are compared; the filter's other
// match fields are not checked.
func (f Filter) Matches(pkt ofp10.Match) bool {
	if f.Match.Wildcards&ofp10.WildcardDlType == 0 && f.Match.DlType != pkt.DlType {
		return false
	}
	if f.Match.Wildcards&ofp10.WildcardInPort == 0 && f.Match.InPort != pkt.InPort {
		return false
	}
	return true
}

// Slice is one registered (dpid hint, filter, controller session) triple.
type Slice struct {
	ID         string
	DPIDHint   uint64
	Filter     Filter
	Controller Session
}

// Registry owns the live slice list (C10). add_slice/remove_slice
// (spec.md §6) are its write operations; everything else in the engine
// only ever reads it to decide who should see a message.
type Registry struct {
	mu     sync.RWMutex
	slices []*Slice
}

func New() *Registry {
	return &Registry{}
}

// Add registers a new slice. Duplicates are allowed (spec.md §3).
func (r *Registry) Add(s *Slice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slices = append(r.slices, s)
}

// Remove drops the slice with the given id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.slices[:0]
	for _, s := range r.slices {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	r.slices = kept
}

// RemoveSession drops every slice naming session (open question #2,
// SPEC_FULL.md: required cleanup on controller-session close).
func (r *Registry) RemoveSession(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.slices[:0]
	for _, s := range r.slices {
		if s.Controller != session {
			kept = append(kept, s)
		}
	}
	r.slices = kept
}

// All returns a snapshot of the current slice list.
func (r *Registry) All() []*Slice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Slice, len(r.slices))
	copy(out, r.slices)
	return out
}

// Matching returns every slice whose filter matches pkt.
func (r *Registry) Matching(pkt ofp10.Match) []*Slice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Slice
	for _, s := range r.slices {
		if s.Filter.Matches(pkt) {
			out = append(out, s)
		}
	}
	return out
}

// Broadcast emits msg to every registered controller session, used for
// PORT_STATUS fan-out from C1 (spec.md §4.1).
func (r *Registry) Broadcast(msg ofp10.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[Session]bool{}
	for _, s := range r.slices {
		if seen[s.Controller] {
			continue
		}
		seen[s.Controller] = true
		s.Controller.Send(msg)
	}
}
