// Package controllerchan implements C9: the switch-facing event handler.
// One Handler runs per physical switch connection, translating what it
// sees into C1/C2/C3/C7 operations and fanning notifications out to
// every registered controller (spec.md §4.9).
package controllerchan

import (
	log "github.com/Sirupsen/logrus"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/packetin"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/stats"
	"github.com/crotsos/flowvisor/internal/topology"
	"github.com/crotsos/flowvisor/internal/transport"
	"github.com/crotsos/flowvisor/internal/xidtracker"
)

// Handler is one physical switch's controller-channel session. DPID is
// unset (zero) until the first FEATURES_REPLY completes the handshake.
type Handler struct {
	Transport  *transport.Session
	DPID       uint64
	joined     bool

	PortMap    *portmap.Map
	BufferMap  *buffermap.Map
	Topology   topology.Resolver
	Slices     *slice.Registry
	Tracker    *xidtracker.Tracker
	Dispatcher *packetin.Dispatcher

	// OnJoin/OnLeave let the engine index live switch sessions by DPID;
	// this package has no registry of its own to avoid an import cycle
	// with whatever owns the DPID -> Handler map.
	OnJoin  func(dpid uint64, h *Handler)
	OnLeave func(dpid uint64)
}

func New(
	t *transport.Session,
	pm *portmap.Map,
	bm *buffermap.Map,
	topo topology.Resolver,
	slices *slice.Registry,
	tracker *xidtracker.Tracker,
	dispatcher *packetin.Dispatcher,
	onJoin func(uint64, *Handler),
	onLeave func(uint64),
) *Handler {
	return &Handler{
		Transport:  t,
		PortMap:    pm,
		BufferMap:  bm,
		Topology:   topo,
		Slices:     slices,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		OnJoin:     onJoin,
		OnLeave:    onLeave,
	}
}

// Send implements stats.Switch, so the aggregator can address this
// switch directly once DPID is known.
func (h *Handler) Send(msg ofp10.Message) { h.Transport.Send(msg) }

// Run opens the handshake (HELLO, FEATURES_REQ) and dispatches every
// inbound event until the transport closes (spec.md §4.9).
func (h *Handler) Run() {
	h.Transport.Send(ofp10.NewHello())
	h.Transport.Send(&ofp10.FeaturesRequest{Hdr: ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeFeaturesRequest}})

	for {
		select {
		case msg, ok := <-h.Transport.Inbound:
			if !ok {
				h.leave()
				return
			}
			h.dispatch(msg)
		case err := <-h.Transport.Error:
			log.Infof("controllerchan: switch %d disconnected: %v", h.DPID, err)
			h.leave()
			return
		}
	}
}

func (h *Handler) leave() {
	h.Transport.Close()
	if !h.joined {
		return
	}
	for _, v := range h.PortMap.RemoveDatapath(h.DPID) {
		h.Slices.Broadcast(&ofp10.PortStatus{
			Hdr:    ofp10.Header{Version: ofp10.Version, Type: ofp10.TypePortStatus},
			Reason: ofp10.PortReasonDelete,
			Desc:   ofp10.PhyPort{Number: v},
		})
	}
	h.BufferMap.ReleaseDatapath(h.DPID)
	h.Topology.RemoveDPID(h.DPID)
	if h.OnLeave != nil {
		h.OnLeave(h.DPID)
	}
}

func (h *Handler) dispatch(msg ofp10.Message) {
	switch m := msg.(type) {
	case *ofp10.SwitchFeatures:
		h.join(m)
	case *ofp10.PacketIn:
		if h.joined {
			h.Dispatcher.Handle(h.DPID, m)
		}
	case *ofp10.FlowRemoved:
		h.handleFlowRemoved(m)
	case *ofp10.PortStatus:
		h.handlePortStatus(m)
	case *ofp10.StatsReply:
		h.handleStatsReply(m)
	case *ofp10.EchoRequest:
		h.Send(ofp10.NewEchoReply(m))
	default:
		// everything else (BARRIER_REPLY, GET_CONFIG_REPLY, ...) needs no
		// reaction from this side.
	}
}

// join implements DATAPATH_JOIN (spec.md §4.9): register the session,
// push the engine's preferred miss-send-len, allocate a virtual port for
// every physical port, and notify every controller slice.
func (h *Handler) join(feat *ofp10.SwitchFeatures) {
	h.DPID = feat.DatapathID
	h.joined = true
	if h.OnJoin != nil {
		h.OnJoin(h.DPID, h)
	}
	h.Topology.AddChannel(h.DPID)
	h.Send(ofp10.NewSetConfig(ofp10.SwitchMissSendLen))

	for _, p := range feat.Ports {
		h.addPort(p)
	}
}

func (h *Handler) addPort(p ofp10.PhyPort) {
	v, err := h.PortMap.AddPort(h.DPID, p.Number, p)
	if err != nil {
		log.Errorf("controllerchan: dpid %d port %d: %v", h.DPID, p.Number, err)
		return
	}
	h.Topology.AddPort(h.DPID, p.Number)
	desc, _ := h.PortMap.Descriptor(v)
	h.Slices.Broadcast(&ofp10.PortStatus{
		Hdr:    ofp10.Header{Version: ofp10.Version, Type: ofp10.TypePortStatus},
		Reason: ofp10.PortReasonAdd,
		Desc:   desc,
	})
}

func (h *Handler) handleFlowRemoved(m *ofp10.FlowRemoved) {
	virt, ok := h.PortMap.VirtOfPhys(h.DPID, m.Match.InPort)
	if !ok {
		return
	}
	match := m.Match
	match.InPort = virt
	out := *m
	out.Match = match
	out.Hdr = ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeFlowRemoved}
	for _, s := range h.Slices.Matching(match) {
		s.Controller.Send(&out)
	}
}

func (h *Handler) handlePortStatus(m *ofp10.PortStatus) {
	switch m.Reason {
	case ofp10.PortReasonDelete:
		v, ok := h.PortMap.RemovePort(h.DPID, m.Desc.Number)
		if !ok {
			return
		}
		h.Topology.RemovePort(h.DPID, m.Desc.Number)
		h.Slices.Broadcast(&ofp10.PortStatus{
			Hdr:    ofp10.Header{Version: ofp10.Version, Type: ofp10.TypePortStatus},
			Reason: ofp10.PortReasonDelete,
			Desc:   ofp10.PhyPort{Number: v},
		})
	default:
		h.addPort(m.Desc)
	}
}

func (h *Handler) handleStatsReply(m *ofp10.StatsReply) {
	var merge func(*xidtracker.Accumulator)
	switch m.Type {
	case ofp10.StatsTypeFlow:
		merge = stats.MergeFlows(m)
	case ofp10.StatsTypeAggregate:
		merge = stats.MergeAggregate(m)
	case ofp10.StatsTypePort:
		merge = stats.MergePorts(m)
	default:
		merge = func(*xidtracker.Accumulator) {}
	}
	h.Tracker.RecordReply(m.Hdr.Xid, h.DPID, merge, m.More())
}
