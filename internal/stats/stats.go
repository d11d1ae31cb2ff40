// Package stats implements C6: fanning a controller's STATS_REQ out to
// the physical switches it concerns, correlating replies through the xid
// tracker (C2), and marshaling the merged accumulator back into one or
// more STATS_REPLY frames bearing the controller's own xid (spec.md
// §4.6).
package stats

import (
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/xidtracker"
)

// Switch is the minimal shape C6 needs to forward a translated request to
// one physical switch's controller-channel session.
type Switch interface {
	Send(msg ofp10.Message)
}

// Aggregator owns no state of its own beyond references to the port map
// and xid tracker; it is safe to share across every controller session.
type Aggregator struct {
	PortMap  *portmap.Map
	Tracker  *xidtracker.Tracker
	Switches func(dpid uint64) (Switch, bool)
	AllDPIDs func() []uint64
}

func New(pm *portmap.Map, tracker *xidtracker.Tracker, switches func(uint64) (Switch, bool), allDPIDs func() []uint64) *Aggregator {
	return &Aggregator{PortMap: pm, Tracker: tracker, Switches: switches, AllDPIDs: allDPIDs}
}

func badStat(xid uint32) error {
	return ofp10.NewError(xid, ofp10.ErrTypeRequestFailed, ofp10.CodeRequestBadStat, nil)
}

// HandleRequest dispatches req (spec.md §4.6). src identifies the
// requesting controller session for xid-tracker bookkeeping. A non-nil
// reply is returned only for requests answered locally without fan-out
// (DESC); for everything else the reply, once every switch answers or
// the sweeper times the aggregation out, arrives asynchronously through
// whatever callback the tracker was built with.
func (a *Aggregator) HandleRequest(src interface{}, req *ofp10.StatsRequest) (*ofp10.StatsReply, error) {
	switch req.Type {
	case ofp10.StatsTypeDesc:
		return &ofp10.StatsReply{
			Hdr:  ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsReply, Xid: req.Hdr.Xid},
			Type: ofp10.StatsTypeDesc,
			Desc: &ofp10.DescStats{
				Manufacturer: ofp10.EngineManufacturer,
				Hardware:     ofp10.EngineHardware,
				Software:     ofp10.EngineSoftware,
				SerialNum:    ofp10.EngineSerialNumber,
				DatapathDesc: ofp10.EngineDatapathDesc,
			},
		}, nil

	case ofp10.StatsTypeFlow, ofp10.StatsTypeAggregate:
		return nil, a.fanFlowOrAggregate(src, req)

	case ofp10.StatsTypeTable:
		return nil, a.fanTable(src, req)

	case ofp10.StatsTypePort:
		return nil, a.fanPort(src, req)

	default:
		return nil, badStat(req.Hdr.Xid)
	}
}

// fanFlowOrAggregate narrows to the single owning DPID when in_port is a
// concrete virtual port, rewriting it to the physical port; otherwise it
// broadcasts to every attached switch (spec.md §4.6).
func (a *Aggregator) fanFlowOrAggregate(src interface{}, req *ofp10.StatsRequest) error {
	kind := xidtracker.KindFlow
	if req.Type == ofp10.StatsTypeAggregate {
		kind = xidtracker.KindAggregate
	}

	match := req.Flow.Match
	var targets []uint64
	if !match.InPortWildcarded() {
		phys, err := a.PortMap.PhysOfVirtStrict(match.InPort)
		if err != nil {
			return err
		}
		match.InPort = phys.Port
		targets = []uint64{phys.DPID}
	} else {
		targets = a.AllDPIDs()
	}

	vxid := a.Tracker.Allocate(src, req.Hdr.Xid, targets, kind)
	for _, dpid := range targets {
		sw, ok := a.Switches(dpid)
		if !ok {
			a.Tracker.RecordReply(vxid, dpid, func(*xidtracker.Accumulator) {}, false)
			continue
		}
		sw.Send(&ofp10.StatsRequest{
			Hdr:   ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsRequest, Xid: vxid},
			Type:  req.Type,
			Flags: req.Flags,
			Flow:  &ofp10.FlowStatsRequest{Match: match, TableID: req.Flow.TableID, OutPort: req.Flow.OutPort},
		})
	}
	return nil
}

// fanTable always broadcasts (the virtual table's own stats are
// synthetic and seeded at Allocate time; physical replies are discarded
// by the tracker itself — spec.md §4.2).
func (a *Aggregator) fanTable(src interface{}, req *ofp10.StatsRequest) error {
	targets := a.AllDPIDs()
	vxid := a.Tracker.Allocate(src, req.Hdr.Xid, targets, xidtracker.KindTable)
	for _, dpid := range targets {
		sw, ok := a.Switches(dpid)
		if !ok {
			a.Tracker.RecordReply(vxid, dpid, func(*xidtracker.Accumulator) {}, false)
			continue
		}
		sw.Send(&ofp10.StatsRequest{
			Hdr:  ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsRequest, Xid: vxid},
			Type: ofp10.StatsTypeTable,
		})
	}
	return nil
}

// fanPort scopes to the single owning DPID when PortNo names a concrete
// virtual port, rewriting it to physical; PNone means "every port",
// which broadcasts to every attached switch.
func (a *Aggregator) fanPort(src interface{}, req *ofp10.StatsRequest) error {
	portNo := req.Port.PortNo
	var targets []uint64
	if portNo != ofp10.PNone && !ofp10.IsReservedPort(portNo) {
		phys, err := a.PortMap.PhysOfVirtStrict(portNo)
		if err != nil {
			return err
		}
		portNo = phys.Port
		targets = []uint64{phys.DPID}
	} else {
		targets = a.AllDPIDs()
	}

	vxid := a.Tracker.Allocate(src, req.Hdr.Xid, targets, xidtracker.KindPort)
	for _, dpid := range targets {
		sw, ok := a.Switches(dpid)
		if !ok {
			a.Tracker.RecordReply(vxid, dpid, func(*xidtracker.Accumulator) {}, false)
			continue
		}
		sw.Send(&ofp10.StatsRequest{
			Hdr:  ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsRequest, Xid: vxid},
			Type: ofp10.StatsTypePort,
			Port: &ofp10.PortStatsRequest{PortNo: portNo},
		})
	}
	return nil
}

// MergeFlows, MergeAggregate and MergePorts are the merge functions C9
// passes to Tracker.RecordReply when a physical switch's stats reply
// comes in; which one applies follows from the record's own Kind, which
// the controller channel already knows from the reply's Type.
func MergeFlows(reply *ofp10.StatsReply) func(*xidtracker.Accumulator) {
	return func(acc *xidtracker.Accumulator) {
		acc.Flows = append(acc.Flows, reply.Flows...)
	}
}

func MergeAggregate(reply *ofp10.StatsReply) func(*xidtracker.Accumulator) {
	return func(acc *xidtracker.Accumulator) {
		if reply.Aggregate == nil {
			return
		}
		acc.Aggregate.PacketCount += reply.Aggregate.PacketCount
		acc.Aggregate.ByteCount += reply.Aggregate.ByteCount
		acc.Aggregate.FlowCount += reply.Aggregate.FlowCount
	}
}

func MergePorts(reply *ofp10.StatsReply) func(*xidtracker.Accumulator) {
	return func(acc *xidtracker.Accumulator) {
		acc.Ports = append(acc.Ports, reply.Ports...)
	}
}

// flowStatsBaseLen is the wire length of one FlowStats entry before its
// variable-length action list: length(2)+table_id+pad(1)+match(40)+duration_sec+
// duration_nsec+priority+idle_timeout+hard_timeout+pad(6)+cookie+
// packet_count+byte_count.
const flowStatsBaseLen = 88
const actionWireLen = 8
const statsReplyHeaderLen = 12 // OpenFlow header (8) + stats type/flags (4)

func flowStatsLen(fs ofp10.FlowStats) int {
	return flowStatsBaseLen + len(fs.Actions)*actionWireLen
}

// ChunkFlows splits a completed flow-stats aggregation into frames no
// larger than ofp10.MaxStatsReplyBytes, with the StatsReplyFlagMore flag
// set on every frame but the last (spec.md §4.2, §8).
func ChunkFlows(rec *xidtracker.Record) []*ofp10.StatsReply {
	budget := ofp10.MaxStatsReplyBytes - statsReplyHeaderLen
	flows := rec.Acc.Flows

	frame := func(chunk []ofp10.FlowStats, more bool) *ofp10.StatsReply {
		flags := uint16(0)
		if more {
			flags = ofp10.StatsReplyFlagMore
		}
		return &ofp10.StatsReply{
			Hdr:   ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsReply, Xid: rec.OrigXid},
			Type:  ofp10.StatsTypeFlow,
			Flags: flags,
			Flows: chunk,
		}
	}

	if len(flows) == 0 {
		return []*ofp10.StatsReply{frame(nil, false)}
	}

	var frames []*ofp10.StatsReply
	var cur []ofp10.FlowStats
	curLen := 0
	for _, fs := range flows {
		l := flowStatsLen(fs)
		if curLen+l > budget && len(cur) > 0 {
			frames = append(frames, frame(cur, true))
			cur = nil
			curLen = 0
		}
		cur = append(cur, fs)
		curLen += l
	}
	frames = append(frames, frame(cur, false))
	return frames
}

// BuildReplies marshals a completed accumulator into the frame(s) to
// deliver to rec.Src, restoring the controller's own xid.
func BuildReplies(rec *xidtracker.Record) []*ofp10.StatsReply {
	switch rec.Acc.Kind {
	case xidtracker.KindFlow:
		return ChunkFlows(rec)
	case xidtracker.KindAggregate:
		return []*ofp10.StatsReply{{
			Hdr:       ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsReply, Xid: rec.OrigXid},
			Type:      ofp10.StatsTypeAggregate,
			Aggregate: &rec.Acc.Aggregate,
		}}
	case xidtracker.KindTable:
		return []*ofp10.StatsReply{{
			Hdr:   ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsReply, Xid: rec.OrigXid},
			Type:  ofp10.StatsTypeTable,
			Table: rec.Acc.Table,
		}}
	case xidtracker.KindPort:
		return []*ofp10.StatsReply{{
			Hdr:   ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeStatsReply, Xid: rec.OrigXid},
			Type:  ofp10.StatsTypePort,
			Ports: rec.Acc.Ports,
		}}
	default:
		return nil
	}
}
