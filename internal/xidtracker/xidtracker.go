// Package xidtracker implements C2: correlating a controller's single
// stats request with the fan-out of per-switch requests it produces, and
// the inverse — merging per-switch replies back into one response bearing
// the controller's original xid (spec.md §4.2).
package xidtracker

import (
	"strconv"
	"sync"
	"time"

	log "github.com/Sirupsen/logrus"
	cmap "github.com/streamrail/concurrent-map"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/crotsos/flowvisor/internal/ofp10"
)

// Kind fixes the accumulator variant a record was created with (spec.md
// §3: "the accumulator's variant is fixed at creation").
type Kind int

const (
	KindFlow Kind = iota
	KindAggregate
	KindTable
	KindPort
	KindNone
)

// Accumulator merges replies of the kind a record was opened with.
type Accumulator struct {
	Kind      Kind
	Flows     []ofp10.FlowStats
	Aggregate ofp10.AggregateStats
	Table     []ofp10.TableStats
	Ports     []ofp10.PortStats
}

// Record is one in-flight fan-out/fan-in correlation.
type Record struct {
	Xid     uint32 // the fresh outbound xid used with the physical switches
	OrigXid uint32 // the controller's own xid, restored on delivery
	Src     interface{} // controller session identity; opaque to this package
	Pending sets.Int64   // DPIDs still owed a reply
	Created time.Time
	Acc     Accumulator
}

// Outcome is what record_reply (spec.md §4.2) reports back to the caller.
type Outcome int

const (
	Partial Outcome = iota
	Complete
	UnknownXid
)

// Tracker owns the live xid records. Sweep, DropSource and record_reply
// all mutate records and their Pending sets; cmap only guards the table
// itself, so those three run under the tracker-wide mutex (spec.md §5).
type Tracker struct {
	mu      sync.Mutex // guards counter and serializes RecordReply, sweepOnce and DropSource
	counter uint32
	records cmap.ConcurrentMap // xid (string) -> *Record

	// Timeout and SweepInterval default to spec.md's 180s/600s but are
	// exported fields set by New, so tests can shorten them instead of
	// sleeping for real (SPEC_FULL.md §4.2).
	Timeout       time.Duration
	SweepInterval time.Duration

	// HandleXid is invoked once a record completes, normally or via sweep
	// timeout, with whatever merged result its kind produces.
	HandleXid func(rec *Record)
}

func New(handleXid func(rec *Record)) *Tracker {
	return &Tracker{
		records:       cmap.New(),
		Timeout:       180 * time.Second,
		SweepInterval: 600 * time.Second,
		HandleXid:     handleXid,
	}
}

func key(xid uint32) string {
	return strconv.FormatUint(uint64(xid), 10)
}

// Allocate opens a new record and returns its xid. Wraparound at 2^32 is
// ignored at this scale (spec.md §4.2).
func (t *Tracker) Allocate(src interface{}, origXid uint32, pending []uint64, kind Kind) uint32 {
	t.mu.Lock()
	t.counter++
	xid := t.counter
	t.mu.Unlock()

	p := sets.NewInt64()
	for _, dpid := range pending {
		p.Insert(int64(dpid))
	}
	rec := &Record{
		Xid:     xid,
		OrigXid: origXid,
		Src:     src,
		Pending: p,
		Created: time.Now(),
		Acc:     Accumulator{Kind: kind},
	}
	if kind == KindTable {
		rec.Acc.Table = []ofp10.TableStats{{
			TableID: ofp10.EngineTableID,
			Name:    ofp10.EngineTableName,
		}}
	}
	if rec.Pending.Len() == 0 {
		// nothing to fan out to (e.g. no physical switch attached at all);
		// complete immediately rather than parking a record nothing will
		// ever finish.
		if t.HandleXid != nil {
			t.HandleXid(rec)
		}
		return xid
	}
	t.records.Set(key(xid), rec)
	return xid
}

// RecordReply merges chunk into xid's accumulator and, iff more is false,
// removes dpid from Pending. Returns Complete once Pending empties out,
// Partial otherwise, UnknownXid if xid isn't tracked (spec.md §4.2).
func (t *Tracker) RecordReply(xid uint32, dpid uint64, merge func(*Accumulator), more bool) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, ok := t.records.Get(key(xid))
	if !ok {
		return UnknownXid
	}
	rec := raw.(*Record)

	if rec.Acc.Kind != KindTable {
		// TableStats replies are discarded (spec.md §4.2): the engine
		// exposes exactly one synthetic virtual table, so nothing from
		// the physical replies is merged in.
		merge(&rec.Acc)
	}

	if !more {
		rec.Pending.Delete(int64(dpid))
	}

	if rec.Pending.Len() == 0 {
		t.records.Remove(key(xid))
		if t.HandleXid != nil {
			t.HandleXid(rec)
		}
		return Complete
	}
	return Partial
}

// Sweep runs periodically (every SweepInterval) and force-completes any
// record older than Timeout, flushing its partial accumulator (spec.md
// §4.2, §5). Call it from a single long-lived goroutine; it blocks until
// ctx-like cancellation is handled by the caller via stop.
func (t *Tracker) Sweep(stop <-chan struct{}) {
	ticker := time.NewTicker(t.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweepOnce()
		case <-stop:
			return
		}
	}
}

func (t *Tracker) sweepOnce() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var stale []*Record
	for item := range t.records.IterBuffered() {
		rec := item.Val.(*Record)
		if now.Sub(rec.Created) > t.Timeout {
			stale = append(stale, rec)
		}
	}
	for _, rec := range stale {
		t.records.Remove(key(rec.Xid))
		log.Warnf("xidtracker: sweeping stale xid %d, %d switches never replied", rec.Xid, rec.Pending.Len())
		if t.HandleXid != nil {
			t.HandleXid(rec)
		}
	}
}

// DropSource force-completes every record sourced by src and removes it
// from the live table (open question #2 in SPEC_FULL.md: session-close
// reclamation resolved as "completes, not silently drops"). HandleXid still
// fires with whatever partial accumulator exists so far — delivering to a
// session that is mid-close is harmless (Send on a closed transport is a
// no-op) and keeps every xid eventually accounted for, matching Sweep's
// behavior rather than leaking the bookkeeping silently.
func (t *Tracker) DropSource(src interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var toDrop []*Record
	for item := range t.records.IterBuffered() {
		rec := item.Val.(*Record)
		if rec.Src == src {
			toDrop = append(toDrop, rec)
		}
	}
	for _, rec := range toDrop {
		t.records.Remove(key(rec.Xid))
		if t.HandleXid != nil {
			t.HandleXid(rec)
		}
	}
}
