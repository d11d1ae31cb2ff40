// Package flowmod implements C5: expanding a controller's virtual flow-mod
// into one flow-mod per physical switch on the path that realizes it
// (spec.md §4.5).
package flowmod

import (
	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/topology"
)

// FlowEmission is one flow-mod bound for one physical switch.
type FlowEmission struct {
	DPID uint64
	Msg  *ofp10.FlowMod
}

// PacketOutEmission is the packet-out emitted after the final hop of an
// ADD/MODIFY translation when the original flow-mod referenced a buffer
// (spec.md §4.5).
type PacketOutEmission struct {
	DPID uint64
	Msg  *ofp10.PacketOut
}

// Result is everything one virtual flow-mod expands into.
type Result struct {
	FlowMods  []FlowEmission
	PacketOut *PacketOutEmission
}

func badStat(in *ofp10.FlowMod) error {
	return ofp10.NewError(in.Hdr.Xid, ofp10.ErrTypeRequestFailed, ofp10.CodeRequestBadStat, nil)
}

// Translate dispatches by command (spec.md §4.5).
func Translate(pm *portmap.Map, bm *buffermap.Map, topo topology.Resolver, allDPIDs []uint64, in *ofp10.FlowMod) (Result, error) {
	switch in.Command {
	case ofp10.FCAdd, ofp10.FCModify, ofp10.FCModifyStrict:
		return translateAddModify(pm, bm, topo, in)
	case ofp10.FCDelete, ofp10.FCDeleteStrict:
		return translateDelete(pm, topo, allDPIDs, in)
	default:
		return Result{}, badStat(in)
	}
}

func translateAddModify(pm *portmap.Map, bm *buffermap.Map, topo topology.Resolver, in *ofp10.FlowMod) (Result, error) {
	inPhys, err := pm.PhysOfVirtStrict(in.Match.InPort)
	if err != nil {
		return Result{}, err
	}
	inDPID, inPort := inPhys.DPID, inPhys.Port

	var flowEmissions []FlowEmission
	var acts []ofp10.Action
	var finalHopDPID uint64
	var finalHopActions []ofp10.Action
	haveFinalHop := false

	for _, a := range in.Actions {
		if a.Type != ofp10.ActTypeOutput {
			acts = append(acts, a)
			continue
		}

		var hops []topology.Hop
		switch a.OutPort {
		case ofp10.PFlood, ofp10.PAll:
			hops = topo.BroadcastTree(inDPID, inPort)
		case ofp10.PInPort:
			hops = []topology.Hop{{DPID: inDPID, InPort: inPort, OutPort: ofp10.PInPort}}
		case ofp10.PController:
			hops = []topology.Hop{{DPID: inDPID, InPort: inPort, OutPort: ofp10.PController}}
		case ofp10.PTable, ofp10.PLocal, ofp10.PNormal:
			return Result{}, badStat(in)
		default:
			outPhys, err := pm.PhysOfVirtStrict(a.OutPort)
			if err != nil {
				return Result{}, err
			}
			if inDPID == outPhys.DPID {
				hops = []topology.Hop{{DPID: inDPID, InPort: inPort, OutPort: outPhys.Port}}
			} else {
				hops, err = topo.FindPath(inDPID, inPort, outPhys.DPID, outPhys.Port)
				if err != nil {
					return Result{}, err
				}
			}
		}

		emitted, lastActions := emitHops(hops, acts, in)
		flowEmissions = append(flowEmissions, emitted...)
		if len(emitted) > 0 {
			finalHopDPID = emitted[len(emitted)-1].DPID
			finalHopActions = lastActions
			haveFinalHop = true
		}
	}

	result := Result{FlowMods: flowEmissions}
	if in.BufferID != ofp10.NoBuffer {
		if !haveFinalHop {
			return Result{}, badStat(in)
		}
		entry, ok := bm.Take(in.BufferID)
		if !ok {
			return Result{}, ofp10.NewError(in.Hdr.Xid, ofp10.ErrTypeRequestFailed, ofp10.CodeRequestBufferUnknown, nil)
		}
		result.PacketOut = &PacketOutEmission{
			DPID: finalHopDPID,
			Msg: &ofp10.PacketOut{
				Hdr:      ofp10.Header{Version: ofp10.Version, Type: ofp10.TypePacketOut, Xid: in.Hdr.Xid},
				BufferID: ofp10.NoBuffer,
				InPort:   ofp10.PNone,
				Actions:  finalHopActions,
				Data:     entry.Data,
			},
		}
	}
	return result, nil
}

// emitHops turns a resolved path into one flow-mod per hop: intermediate
// hops get exactly [Output(out_port)], the final hop gets the
// accumulated non-output actions plus Output(out_port) (spec.md §4.5).
// idle/hard timeout, flags and cookie are carried through verbatim
// (SPEC_FULL.md §4.5 supplemental feature).
func emitHops(hops []topology.Hop, acts []ofp10.Action, in *ofp10.FlowMod) ([]FlowEmission, []ofp10.Action) {
	var out []FlowEmission
	var lastActions []ofp10.Action
	last := len(hops) - 1
	for i, h := range hops {
		actions := []ofp10.Action{ofp10.Output(h.OutPort)}
		if i == last {
			actions = append(append([]ofp10.Action(nil), acts...), ofp10.Output(h.OutPort))
		}

		match := in.Match
		match.InPort = h.InPort
		match.Wildcards &^= ofp10.WildcardInPort

		fm := &ofp10.FlowMod{
			Hdr:         ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeFlowMod, Xid: in.Hdr.Xid},
			Match:       match,
			Cookie:      in.Cookie,
			Command:     in.Command,
			IdleTimeout: in.IdleTimeout,
			HardTimeout: in.HardTimeout,
			Priority:    in.Priority,
			BufferID:    ofp10.NoBuffer,
			OutPort:     ofp10.PNone,
			Flags:       in.Flags,
			Actions:     actions,
		}
		out = append(out, FlowEmission{DPID: h.DPID, Msg: fm})
		if i == last {
			lastActions = actions
		}
	}
	return out, lastActions
}

func translateDelete(pm *portmap.Map, topo topology.Resolver, allDPIDs []uint64, in *ofp10.FlowMod) (Result, error) {
	wildcarded := in.Match.InPortWildcarded()

	switch {
	case wildcarded && in.OutPort == ofp10.PNone:
		return Result{FlowMods: broadcastDelete(allDPIDs, in)}, nil

	case !wildcarded && in.Match.InPort == ofp10.PLocal && in.OutPort == ofp10.PNone:
		return Result{FlowMods: broadcastDelete(allDPIDs, in)}, nil

	case !wildcarded && !ofp10.IsReservedPort(in.Match.InPort) && in.OutPort == ofp10.PNone:
		phys, err := pm.PhysOfVirtStrict(in.Match.InPort)
		if err != nil {
			return Result{}, err
		}
		return Result{FlowMods: []FlowEmission{{DPID: phys.DPID, Msg: cloneDeleteWithInPort(in, phys.Port)}}}, nil

	case !wildcarded && !ofp10.IsReservedPort(in.Match.InPort) && !ofp10.IsReservedPort(in.OutPort):
		inPhys, err := pm.PhysOfVirtStrict(in.Match.InPort)
		if err != nil {
			return Result{}, err
		}
		outPhys, err := pm.PhysOfVirtStrict(in.OutPort)
		if err != nil {
			return Result{}, err
		}
		var hops []topology.Hop
		if inPhys.DPID == outPhys.DPID {
			hops = []topology.Hop{{DPID: inPhys.DPID, InPort: inPhys.Port, OutPort: outPhys.Port}}
		} else {
			hops, err = topo.FindPath(inPhys.DPID, inPhys.Port, outPhys.DPID, outPhys.Port)
			if err != nil {
				return Result{}, err
			}
		}
		var emissions []FlowEmission
		for _, h := range hops {
			emissions = append(emissions, FlowEmission{DPID: h.DPID, Msg: cloneDeleteWithInPort(in, h.InPort)})
		}
		return Result{FlowMods: emissions}, nil

	default:
		return Result{}, badStat(in)
	}
}

func broadcastDelete(allDPIDs []uint64, in *ofp10.FlowMod) []FlowEmission {
	var emissions []FlowEmission
	for _, dpid := range allDPIDs {
		fm := *in
		fm.Hdr = ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeFlowMod, Xid: in.Hdr.Xid}
		emissions = append(emissions, FlowEmission{DPID: dpid, Msg: &fm})
	}
	return emissions
}

func cloneDeleteWithInPort(in *ofp10.FlowMod, phys uint16) *ofp10.FlowMod {
	fm := *in
	fm.Hdr = ofp10.Header{Version: ofp10.Version, Type: ofp10.TypeFlowMod, Xid: in.Hdr.Xid}
	fm.Match.InPort = phys
	fm.Match.Wildcards &^= ofp10.WildcardInPort
	return &fm
}
