// Package ofp10 defines the in-memory shapes of the OpenFlow 1.0 messages the
// engine operates on, plus a minimal wire codec for them. Framing, TLS and
// keep-alive belong to the transport layer (internal/transport); this package
// only ever sees whole messages.
package ofp10

// Version is the OpenFlow wire version this package speaks.
const Version uint8 = 0x01

// Message type codes, OpenFlow 1.0 section A.1.
const (
	TypeHello uint8 = iota
	TypeError
	TypeEchoRequest
	TypeEchoReply
	TypeVendor
	TypeFeaturesRequest
	TypeFeaturesReply
	TypeGetConfigRequest
	TypeGetConfigReply
	TypeSetConfig
	TypePacketIn
	TypeFlowRemoved
	TypePortStatus
	TypePacketOut
	TypeFlowMod
	TypePortMod
	TypeStatsRequest
	TypeStatsReply
	TypeBarrierRequest
	TypeBarrierReply
	TypeQueueGetConfigRequest
	TypeQueueGetConfigReply
)

// Reserved port numbers (OpenFlow 1.0 section 5.2.1). Virtual ports are
// allocated below PMax, starting at 10 (spec.md §3).
const (
	PMax        uint16 = 0xff00
	PInPort     uint16 = 0xfff8
	PTable      uint16 = 0xfff9
	PNormal     uint16 = 0xfffa
	PFlood      uint16 = 0xfffb
	PAll        uint16 = 0xfffc
	PController uint16 = 0xfffd
	PLocal      uint16 = 0xfffe
	PNone       uint16 = 0xffff
)

// FirstVirtualPort is the first port number handed out by the port map.
// 0..9 are reserved to stay well clear of any OpenFlow reserved constant.
const FirstVirtualPort uint16 = 10

// IsReservedPort reports whether p is one of the OpenFlow reserved port
// constants rather than a switch- or engine-assigned port number.
func IsReservedPort(p uint16) bool {
	switch p {
	case PInPort, PTable, PNormal, PFlood, PAll, PController, PLocal, PNone:
		return true
	default:
		return p >= PMax && p != PNone
	}
}

// Flow-mod commands.
const (
	FCAdd uint16 = iota
	FCModify
	FCModifyStrict
	FCDelete
	FCDeleteStrict
)

// Flow wildcards, OpenFlow 1.0 section 5.2.3. Only the bits the engine
// inspects (in_port, dl_type) are named individually; the rest travel
// opaquely in Match.Wildcards.
const (
	WildcardInPort uint32 = 1 << 0
	WildcardDlType uint32 = 1 << 4
)

// Action types, OpenFlow 1.0 section 5.2.4.
const (
	ActTypeOutput uint16 = iota
	ActTypeSetVlanVid
	ActTypeSetVlanPcp
	ActTypeStripVlan
	ActTypeSetDlSrc
	ActTypeSetDlDst
	ActTypeSetNwSrc
	ActTypeSetNwDst
	ActTypeSetNwTos
	ActTypeSetTpSrc
	ActTypeSetTpDst
)

// Stats request/reply body types, OpenFlow 1.0 section 5.3.5.
const (
	StatsTypeDesc uint16 = iota
	StatsTypeFlow
	StatsTypeAggregate
	StatsTypeTable
	StatsTypePort
	StatsTypeQueue
)

// StatsReplyFlagMore marks a StatsReply as one of several; the final frame
// of an aggregation omits it.
const StatsReplyFlagMore uint16 = 1 << 0

// Error types and codes actually produced by the engine (spec.md §6).
const (
	ErrTypeActionFailed  uint16 = 2
	ErrTypeRequestFailed uint16 = 1
	ErrTypeQueueOpFailed uint16 = 5
)

const (
	CodeActionBadOutPort  uint16 = 4 // OFPBAC_BAD_OUT_PORT, within ErrTypeActionFailed
	CodeRequestBufferUnknown uint16 = 8 // OFPBRC_BUFFER_UNKNOWN, within ErrTypeRequestFailed
	CodeRequestBadStat    uint16 = 2 // OFPBRC_BAD_STAT, within ErrTypeRequestFailed (also returned for unsupported output targets)
	CodeRequestBadType    uint16 = 1 // OFPBRC_BAD_TYPE, within ErrTypeRequestFailed
	CodeQueueOpBadPort    uint16 = 0 // OFPQOFC_BAD_PORT, within ErrTypeQueueOpFailed
)

// NoBuffer is the sentinel "no buffered packet" buffer id.
const NoBuffer uint32 = 0xffffffff

// MaxStatsReplyBytes bounds a single STATS_REPLY frame (spec.md §4.2 / §8).
const MaxStatsReplyBytes = 65535
