// Package topology declares the interface the flow-mod translator (C5)
// and the packet-in dispatcher (C7) consult for path resolution and
// transit-port classification. Per spec.md §1 and §9, the topology
// discoverer itself — LLDP emission, link inference — is an external
// collaborator; only its consulted surface is defined here, plus a
// minimal, static implementation good enough to drive the engine without
// a real discovery process attached.
package topology

// Hop is one (switch, inbound port, outbound port) leg of a resolved
// path, as produced by find_path (spec.md §4.5).
type Hop struct {
	DPID    uint64
	InPort  uint16
	OutPort uint16
}

// Resolver is the interface spec.md §9 names:
// "{ add_port, remove_port, add_channel, remove_dpid,
//    find_path(dpid_in, port_in, dpid_out, port_out) -> [hop],
//    is_transit_port(dpid, phys) -> bool, process_lldp(...) -> bool }".
type Resolver interface {
	AddPort(dpid uint64, port uint16)
	RemovePort(dpid uint64, port uint16)
	AddChannel(dpid uint64)
	RemoveDPID(dpid uint64)

	FindPath(dpidIn uint64, portIn uint16, dpidOut uint64, portOut uint16) ([]Hop, error)
	IsTransitPort(dpid uint64, port uint16) bool

	// ProcessLLDP hands an LLDP frame to the topology discoverer's
	// ingest; it reports whether the frame was claimed (spec.md §4.7).
	ProcessLLDP(dpid uint64, inPort uint16, data []byte) bool

	// BroadcastTree returns the best-effort spanning-tree hops for a
	// FLOOD/ALL flow-mod out of (dpidIn, portIn) (spec.md §4.5). May be
	// empty.
	BroadcastTree(dpidIn uint64, portIn uint16) []Hop
}
