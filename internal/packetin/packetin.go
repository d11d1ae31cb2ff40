// Package packetin implements C7: the physical PACKET_IN dispatcher —
// LLDP ingest, transit-port filtering, virtual buffer/port translation,
// and slice fan-out (spec.md §4.7).
package packetin

import (
	"encoding/binary"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/topology"
)

const lldpEtherType = 0x88cc

// Dispatcher wires together the collaborators C7 needs; it holds no
// mutable state of its own.
type Dispatcher struct {
	PortMap   *portmap.Map
	BufferMap *buffermap.Map
	Topology  topology.Resolver
	Slices    *slice.Registry
}

func New(pm *portmap.Map, bm *buffermap.Map, topo topology.Resolver, slices *slice.Registry) *Dispatcher {
	return &Dispatcher{PortMap: pm, BufferMap: bm, Topology: topo, Slices: slices}
}

// Handle runs the steps of spec.md §4.7 in order. dpid is the physical
// switch the frame arrived on; in is the raw PACKET_IN as received on
// that switch's controller-channel session (InPort still physical).
func (d *Dispatcher) Handle(dpid uint64, in *ofp10.PacketIn) {
	dlType := parseEtherType(in.Data)

	if dlType == lldpEtherType {
		if d.Topology.ProcessLLDP(dpid, in.InPort, in.Data) {
			return
		}
	}

	if d.Topology.IsTransitPort(dpid, in.InPort) {
		return
	}

	virtPort, ok := d.PortMap.VirtOfPhys(dpid, in.InPort)
	if !ok {
		// a port the engine never learned about (e.g. race with
		// DATAPATH_LEAVE); nothing downstream can address it.
		return
	}

	match := parseMatch(virtPort, dlType, in.Data)
	targets := d.Slices.Matching(match)
	if len(targets) == 0 {
		return
	}

	bufID := d.BufferMap.Allocate(dpid, in.Data)
	out := &ofp10.PacketIn{
		Hdr:      ofp10.Header{Version: ofp10.Version, Type: ofp10.TypePacketIn, Xid: in.Hdr.Xid},
		BufferID: bufID,
		TotalLen: in.TotalLen,
		InPort:   virtPort,
		Reason:   in.Reason,
		Data:     in.Data,
	}
	for _, s := range targets {
		s.Controller.Send(out)
	}
}

// parseEtherType reads the 802.3 EtherType/length field; returns 0 if
// the frame is too short to contain one.
func parseEtherType(data []byte) uint16 {
	if len(data) < 14 {
		return 0
	}
	return binary.BigEndian.Uint16(data[12:14])
}

// parseMatch builds the match the slice registry filters on. Only the
// fields the engine actually inspects (in_port, dl_type) are made
// concrete; everything else stays wildcarded (spec.md §4.7: "the parsed
// match" is deliberately shallow — slices filter on dl_type and in_port,
// nothing deeper).
func parseMatch(virtPort uint16, dlType uint16, data []byte) ofp10.Match {
	m := ofp10.Match{
		InPort:    virtPort,
		DlType:    dlType,
		Wildcards: ^uint32(0) &^ (ofp10.WildcardInPort | ofp10.WildcardDlType),
	}
	if len(data) >= 14 {
		copy(m.DlDst[:], data[0:6])
		copy(m.DlSrc[:], data[6:12])
	}
	return m
}
