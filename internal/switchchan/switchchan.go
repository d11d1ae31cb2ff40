// Package switchchan implements C8: the controller-facing session
// handler. One Handler runs per connected controller, dispatching its
// messages per spec.md §4.8.
package switchchan

import (
	log "github.com/Sirupsen/logrus"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/flowmod"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/packetout"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/stats"
	"github.com/crotsos/flowvisor/internal/topology"
	"github.com/crotsos/flowvisor/internal/transport"
	"github.com/crotsos/flowvisor/internal/xidtracker"
)

// State is this session's position in the Handshaking -> Established ->
// Closed lifecycle (spec.md §4.8).
type State int

const (
	Handshaking State = iota
	Established
	Closed
)

// PhysicalSwitch is what a physical switch's controller-channel session
// must expose for a translated message to reach it.
type PhysicalSwitch interface {
	Send(msg ofp10.Message)
}

// Handler is one controller's switch-channel session. It implements
// slice.Session so the slice registry can deliver PACKET_IN/FLOW_REMOVED/
// PORT_STATUS directly to it.
type Handler struct {
	Transport *transport.Session
	PortMap   *portmap.Map
	BufferMap *buffermap.Map
	Topology  topology.Resolver
	Slices    *slice.Registry
	Stats     *stats.Aggregator
	Tracker   *xidtracker.Tracker
	Switches  func(dpid uint64) (PhysicalSwitch, bool)
	AllDPIDs  func() []uint64

	state State
}

func New(
	t *transport.Session,
	pm *portmap.Map,
	bm *buffermap.Map,
	topo topology.Resolver,
	slices *slice.Registry,
	st *stats.Aggregator,
	tracker *xidtracker.Tracker,
	switches func(uint64) (PhysicalSwitch, bool),
	allDPIDs func() []uint64,
) *Handler {
	return &Handler{
		Transport: t,
		PortMap:   pm,
		BufferMap: bm,
		Topology:  topo,
		Slices:    slices,
		Stats:     st,
		Tracker:   tracker,
		Switches:  switches,
		AllDPIDs:  allDPIDs,
		state:     Handshaking,
	}
}

// ID identifies this session to the slice registry and xid tracker.
func (h *Handler) ID() string { return h.Transport.RemoteAddr() }

// Send implements slice.Session.
func (h *Handler) Send(msg ofp10.Message) { h.Transport.Send(msg) }

// Run sends HELLO, moves to Established, and dispatches inbound messages
// until the transport closes (spec.md §4.8). Call it from its own
// goroutine; it returns once the session is gone.
func (h *Handler) Run() {
	h.Transport.Send(ofp10.NewHello())
	h.state = Established

	for {
		select {
		case msg, ok := <-h.Transport.Inbound:
			if !ok {
				h.close()
				return
			}
			h.dispatch(msg)
		case err := <-h.Transport.Error:
			log.Infof("switchchan: session %s closed: %v", h.ID(), err)
			h.close()
			return
		}
	}
}

func (h *Handler) close() {
	h.state = Closed
	h.Transport.Close()
	h.Slices.RemoveSession(h)
	h.Tracker.DropSource(h)
}

// sendError answers msg with e, stamped with msg's xid and carrying
// msg's encoded bytes.
func (h *Handler) sendError(e *ofp10.Error, msg ofp10.Message) {
	reply := *e
	reply.Hdr.Xid = msg.Header().Xid
	if raw, err := ofp10.Encode(msg); err == nil {
		reply.Data = raw
	}
	h.Send(&reply)
}

func (h *Handler) dispatch(msg ofp10.Message) {
	switch m := msg.(type) {
	case *ofp10.Hello:
	case *ofp10.SetConfig:
	case *ofp10.EchoRequest:
		h.Send(ofp10.NewEchoReply(m))
	case *ofp10.FeaturesRequest:
		h.Send(h.buildFeatures(m.Hdr.Xid))
	case *ofp10.GetConfigRequest:
		h.Send(&ofp10.SwitchConfig{
			Hdr:         ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeGetConfigReply, Xid: m.Hdr.Xid},
			MissSendLen: ofp10.EngineMissSendLen,
		})
	case *ofp10.BarrierRequest:
		h.Send(ofp10.NewBarrierReply(m.Hdr.Xid))
	case *ofp10.StatsRequest:
		h.handleStats(m)
	case *ofp10.PacketOut:
		h.handlePacketOut(m)
	case *ofp10.FlowMod:
		h.handleFlowMod(m)
	default:
		h.sendError(ofp10.NewError(0, ofp10.ErrTypeRequestFailed, ofp10.CodeRequestBadType, nil), msg)
	}
}

func (h *Handler) buildFeatures(xid uint32) *ofp10.SwitchFeatures {
	return &ofp10.SwitchFeatures{
		Hdr:          ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeFeaturesReply, Xid: xid},
		DatapathID:   0,
		NBuffers:     0,
		NTables:      1,
		Capabilities: ofp10.EngineCapabilities,
		Actions:      ofp10.EngineActions,
		Ports:        h.PortMap.AllDescriptors(),
	}
}

func (h *Handler) handleStats(m *ofp10.StatsRequest) {
	reply, err := h.Stats.HandleRequest(h, m)
	if err != nil {
		h.sendError(err.(*ofp10.Error), m)
		return
	}
	if reply != nil {
		h.Send(reply)
	}
}

func (h *Handler) handlePacketOut(m *ofp10.PacketOut) {
	emissions, err := packetout.Translate(h.PortMap, h.BufferMap, h.AllDPIDs(), m)
	if err != nil {
		h.sendError(err.(*ofp10.Error), m)
		return
	}
	for _, e := range emissions {
		sw, ok := h.Switches(e.DPID)
		if !ok {
			continue
		}
		sw.Send(e.Msg)
	}
}

func (h *Handler) handleFlowMod(m *ofp10.FlowMod) {
	result, err := flowmod.Translate(h.PortMap, h.BufferMap, h.Topology, h.AllDPIDs(), m)
	if err != nil {
		h.sendError(err.(*ofp10.Error), m)
		return
	}
	for _, e := range result.FlowMods {
		sw, ok := h.Switches(e.DPID)
		if !ok {
			continue
		}
		sw.Send(e.Msg)
	}
	if result.PacketOut != nil {
		if sw, ok := h.Switches(result.PacketOut.DPID); ok {
			sw.Send(result.PacketOut.Msg)
		}
	}
}
