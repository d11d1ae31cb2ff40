// Package packetout implements C4: expanding a controller's virtual
// packet-out into one packet-out per physical switch it must touch
// (spec.md §4.4).
package packetout

import (
	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/portmap"
)

// Emission is one packet-out bound for one physical switch.
type Emission struct {
	DPID uint64
	Msg  *ofp10.PacketOut
}

// Translate expands in into its per-switch emissions. allDPIDs lists
// every physical switch currently attached, needed for FLOOD/ALL's
// "every other DPID" fan-out (spec.md §4.4).
//
// The buffer map is always consulted up front: a referenced buffer_id is
// taken exactly once, so every emission this function produces carries
// the payload inline with buffer_id cleared rather than forwarding a raw
// buffer reference downstream — satisfying the single-use invariant
// (spec.md §8) regardless of how many physical switches end up involved.
func Translate(pm *portmap.Map, bm *buffermap.Map, allDPIDs []uint64, in *ofp10.PacketOut) ([]Emission, error) {
	data := in.Data
	if in.BufferID != ofp10.NoBuffer {
		entry, ok := bm.Take(in.BufferID)
		if !ok {
			return nil, ofp10.NewError(in.Hdr.Xid, ofp10.ErrTypeRequestFailed, ofp10.CodeRequestBufferUnknown, nil)
		}
		data = entry.Data
	}

	var originDPID uint64
	var originPhys uint16
	haveOrigin := false
	if !ofp10.IsReservedPort(in.InPort) {
		phys, err := pm.PhysOfVirtStrict(in.InPort)
		if err != nil {
			return nil, err
		}
		originDPID, originPhys = phys.DPID, phys.Port
		haveOrigin = true
	}

	var emissions []Emission
	var acts []ofp10.Action

	emit := func(dpid uint64, inPort uint16, out ofp10.Action) {
		actions := append(append([]ofp10.Action(nil), acts...), out)
		emissions = append(emissions, Emission{
			DPID: dpid,
			Msg: &ofp10.PacketOut{
				Hdr:      ofp10.Header{Version: ofp10.Version, Type: ofp10.TypePacketOut, Xid: in.Hdr.Xid},
				BufferID: ofp10.NoBuffer,
				InPort:   inPort,
				Actions:  actions,
				Data:     data,
			},
		})
	}

	badStat := func() error {
		return ofp10.NewError(in.Hdr.Xid, ofp10.ErrTypeRequestFailed, ofp10.CodeRequestBadStat, nil)
	}

	for _, a := range in.Actions {
		if a.Type != ofp10.ActTypeOutput {
			acts = append(acts, a)
			continue
		}
		switch a.OutPort {
		case ofp10.PFlood, ofp10.PAll:
			if !haveOrigin {
				return nil, badStat()
			}
			emit(originDPID, originPhys, ofp10.Output(a.OutPort))
			for _, dpid := range allDPIDs {
				if dpid == originDPID {
					continue
				}
				emit(dpid, ofp10.PNone, ofp10.Output(a.OutPort))
			}
		case ofp10.PInPort:
			if !haveOrigin {
				return nil, badStat()
			}
			emit(originDPID, originPhys, ofp10.Output(ofp10.PInPort))
		case ofp10.PController, ofp10.PTable, ofp10.PLocal, ofp10.PNormal, ofp10.PNone:
			return nil, badStat()
		default:
			phys, err := pm.PhysOfVirtStrict(a.OutPort)
			if err != nil {
				return nil, err
			}
			emit(phys.DPID, ofp10.PNone, ofp10.Output(phys.Port))
		}
	}
	return emissions, nil
}
