// Package engine wires C1-C10 together: it owns the live port/buffer/xid/
// slice state and the switch-facing and controller-facing session maps,
// and exposes the handful of entry points cmd/flowvisor drives (listen on
// both sides, load slice configuration).
package engine

import (
	"context"
	"strconv"
	"sync"

	log "github.com/Sirupsen/logrus"
	cmap "github.com/streamrail/concurrent-map"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/controllerchan"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/packetin"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/stats"
	"github.com/crotsos/flowvisor/internal/switchchan"
	"github.com/crotsos/flowvisor/internal/topology"
	"github.com/crotsos/flowvisor/internal/transport"
	"github.com/crotsos/flowvisor/internal/xidtracker"
)

// Engine is the whole virtualization core, minus the transport sockets
// themselves (ServeSwitches/ServeControllers open those).
type Engine struct {
	PortMap    *portmap.Map
	BufferMap  *buffermap.Map
	Topology   topology.Resolver
	Slices     *slice.Registry
	Tracker    *xidtracker.Tracker
	Stats      *stats.Aggregator
	Dispatcher *packetin.Dispatcher

	switches cmap.ConcurrentMap // dpid (string) -> *controllerchan.Handler

	mu        sync.Mutex
	sliceSeq  uint64
}

func New(topo topology.Resolver) *Engine {
	e := &Engine{
		PortMap:   portmap.New(),
		BufferMap: buffermap.New(),
		Topology:  topo,
		Slices:    slice.New(),
		switches:  cmap.New(),
	}
	e.Tracker = xidtracker.New(e.handleXid)
	e.Stats = stats.New(e.PortMap, e.Tracker, e.statsSwitch, e.AllDPIDs)
	e.Dispatcher = packetin.New(e.PortMap, e.BufferMap, e.Topology, e.Slices)
	return e
}

func dpidKey(dpid uint64) string { return strconv.FormatUint(dpid, 10) }

// handleXid is the xid tracker's completion callback (C2 -> C6): marshal
// the finished accumulator and deliver it to whichever controller session
// opened the request. Records force-completed by DropSource when their
// session closes also arrive here; Send on that closed transport returns
// without delivering anything.
func (e *Engine) handleXid(rec *xidtracker.Record) {
	sess, ok := rec.Src.(interface{ Send(ofp10.Message) })
	if !ok {
		return
	}
	for _, reply := range stats.BuildReplies(rec) {
		sess.Send(reply)
	}
}

func (e *Engine) getSwitch(dpid uint64) (*controllerchan.Handler, bool) {
	v, ok := e.switches.Get(dpidKey(dpid))
	if !ok {
		return nil, false
	}
	return v.(*controllerchan.Handler), true
}

func (e *Engine) statsSwitch(dpid uint64) (stats.Switch, bool) {
	h, ok := e.getSwitch(dpid)
	if !ok {
		return nil, false
	}
	return h, true
}

func (e *Engine) physicalSwitch(dpid uint64) (switchchan.PhysicalSwitch, bool) {
	h, ok := e.getSwitch(dpid)
	if !ok {
		return nil, false
	}
	return h, true
}

// AllDPIDs lists every physical switch currently attached.
func (e *Engine) AllDPIDs() []uint64 {
	var out []uint64
	for item := range e.switches.IterBuffered() {
		out = append(out, item.Val.(*controllerchan.Handler).DPID)
	}
	return out
}

func (e *Engine) onSwitchJoin(dpid uint64, h *controllerchan.Handler) {
	e.switches.Set(dpidKey(dpid), h)
	log.Infof("engine: dpid %d joined", dpid)
}

func (e *Engine) onSwitchLeave(dpid uint64) {
	e.switches.Remove(dpidKey(dpid))
	log.Infof("engine: dpid %d left", dpid)
}

// ServeSwitches accepts physical switch connections on addr, running one
// controllerchan.Handler (C9) per connection, until ctx is cancelled.
func (e *Engine) ServeSwitches(ctx context.Context, addr string) error {
	log.Infof("engine: listening for switches on %s", addr)
	return transport.Listen(ctx, addr, func(t *transport.Session) {
		h := controllerchan.New(t, e.PortMap, e.BufferMap, e.Topology, e.Slices, e.Tracker, e.Dispatcher, e.onSwitchJoin, e.onSwitchLeave)
		go h.Run()
	})
}

// ServeControllers accepts controller connections on addr, running one
// switchchan.Handler (C8) per connection, until ctx is cancelled.
func (e *Engine) ServeControllers(ctx context.Context, addr string) error {
	log.Infof("engine: listening for controllers on %s", addr)
	return transport.Listen(ctx, addr, func(t *transport.Session) {
		h := switchchan.New(t, e.PortMap, e.BufferMap, e.Topology, e.Slices, e.Stats, e.Tracker, e.physicalSwitch, e.AllDPIDs)
		go h.Run()
	})
}

// AddSlice registers a new slice (C10, spec.md §6) that delivers to
// controller. Its only caller is slicecfg, which passes a live
// switchchan.Handler for the named controller.
func (e *Engine) AddSlice(id string, dpidHint uint64, filter slice.Filter, controller slice.Session) {
	e.Slices.Add(&slice.Slice{ID: id, DPIDHint: dpidHint, Filter: filter, Controller: controller})
}

// RemoveSlice unregisters a slice by id (C10, spec.md §6).
func (e *Engine) RemoveSlice(id string) {
	e.Slices.Remove(id)
}

// NextSliceID hands out a locally-unique slice identifier for
// configuration sources (e.g. slicecfg) that don't name their own.
func (e *Engine) NextSliceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sliceSeq++
	return "slice-" + strconv.FormatUint(e.sliceSeq, 10)
}

// NewControllerSession builds a switch-channel handler (C8) wired to this
// engine's shared state, for callers (e.g. slicecfg) that dial out to a
// slice's controller themselves rather than waiting for ServeControllers
// to accept it.
func (e *Engine) NewControllerSession(t *transport.Session) *switchchan.Handler {
	return switchchan.New(t, e.PortMap, e.BufferMap, e.Topology, e.Slices, e.Stats, e.Tracker, e.physicalSwitch, e.AllDPIDs)
}
