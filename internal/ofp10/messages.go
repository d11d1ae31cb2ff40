package ofp10

import "strconv"

// Header is embedded by value in every message, mirroring the
// contiv/libOpenflow convention of a value-embedded header carrying
// version/type/length/xid.
type Header struct {
	Version uint8
	Type    uint8
	Length  uint16
	Xid     uint32
}

// Message is implemented by every decoded OpenFlow message this package
// knows about. Xid is used constantly by the engine (xid translation is
// the whole point of C2); the other fields travel opaquely.
type Message interface {
	Header() Header
	SetXid(xid uint32)
}

// Hello carries no body in OpenFlow 1.0.
type Hello struct{ Hdr Header }

func (m *Hello) Header() Header    { return m.Hdr }
func (m *Hello) SetXid(x uint32)   { m.Hdr.Xid = x }
func NewHello() *Hello             { return &Hello{Hdr: Header{Version: Version, Type: TypeHello}} }

// EchoRequest/EchoReply bounce arbitrary data back unchanged.
type EchoRequest struct {
	Hdr  Header
	Data []byte
}

func (m *EchoRequest) Header() Header  { return m.Hdr }
func (m *EchoRequest) SetXid(x uint32) { m.Hdr.Xid = x }

type EchoReply struct {
	Hdr  Header
	Data []byte
}

func (m *EchoReply) Header() Header  { return m.Hdr }
func (m *EchoReply) SetXid(x uint32) { m.Hdr.Xid = x }

func NewEchoReply(req *EchoRequest) *EchoReply {
	return &EchoReply{Hdr: Header{Version: Version, Type: TypeEchoReply, Xid: req.Hdr.Xid}, Data: req.Data}
}

// FeaturesRequest/SwitchFeatures.
type FeaturesRequest struct{ Hdr Header }

func (m *FeaturesRequest) Header() Header  { return m.Hdr }
func (m *FeaturesRequest) SetXid(x uint32) { m.Hdr.Xid = x }

// PhyPort is a controller-visible port descriptor. Number is always a
// virtual port or reserved constant by the time it leaves the engine.
type PhyPort struct {
	Number     uint16
	HwAddr     [6]byte
	Name       string
	Config     uint32
	State      uint32
	Curr       uint32
	Advertised uint32
	Supported  uint32
	Peer       uint32
}

type SwitchFeatures struct {
	Hdr          Header
	DatapathID   uint64
	NBuffers     uint32
	NTables      uint8
	Capabilities uint32
	Actions      uint32
	Ports        []PhyPort
}

func (m *SwitchFeatures) Header() Header  { return m.Hdr }
func (m *SwitchFeatures) SetXid(x uint32) { m.Hdr.Xid = x }

// Capability and action bitmasks the engine advertises (spec.md §4.8).
const (
	CapFlowStats  uint32 = 1 << 0
	CapTableStats uint32 = 1 << 1
	CapPortStats  uint32 = 1 << 2
	CapArpMatchIP uint32 = 1 << 7
)

const (
	ActionOutput     uint32 = 1 << ActTypeOutput
	ActionSetVlanVid uint32 = 1 << ActTypeSetVlanVid
	ActionSetVlanPcp uint32 = 1 << ActTypeSetVlanPcp
	ActionStripVlan  uint32 = 1 << ActTypeStripVlan
	ActionSetDlSrc   uint32 = 1 << ActTypeSetDlSrc
	ActionSetDlDst   uint32 = 1 << ActTypeSetDlDst
	ActionSetNwSrc   uint32 = 1 << ActTypeSetNwSrc
	ActionSetNwDst   uint32 = 1 << ActTypeSetNwDst
	ActionSetNwTos   uint32 = 1 << ActTypeSetNwTos
	ActionSetTpSrc   uint32 = 1 << ActTypeSetTpSrc
	ActionSetTpDst   uint32 = 1 << ActTypeSetTpDst
)

// EngineActions is the capability set advertised on every FEATURES_REPLY
// (spec.md §4.8).
const EngineActions = ActionOutput | ActionSetVlanVid | ActionSetVlanPcp | ActionStripVlan |
	ActionSetDlSrc | ActionSetDlDst | ActionSetNwSrc | ActionSetNwDst | ActionSetNwTos |
	ActionSetTpSrc | ActionSetTpDst

const EngineCapabilities = CapFlowStats | CapTableStats | CapPortStats | CapArpMatchIP

// GetConfigRequest/SwitchConfig/SetConfig.
type GetConfigRequest struct{ Hdr Header }

func (m *GetConfigRequest) Header() Header  { return m.Hdr }
func (m *GetConfigRequest) SetXid(x uint32) { m.Hdr.Xid = x }

type SwitchConfig struct {
	Hdr         Header
	Flags       uint16
	MissSendLen uint16
}

func (m *SwitchConfig) Header() Header  { return m.Hdr }
func (m *SwitchConfig) SetXid(x uint32) { m.Hdr.Xid = x }

// EngineMissSendLen is the miss-send-len the engine reports to controllers
// on GET_CONFIG_REPLY (spec.md §4.8 — a static config, no flags).
const EngineMissSendLen uint16 = 3000

// SwitchMissSendLen is what C9 pushes down to a newly joined physical
// switch (spec.md §4.9): request the whole packet on a table miss.
const SwitchMissSendLen uint16 = 0x1fff

type SetConfig struct {
	Hdr         Header
	Flags       uint16
	MissSendLen uint16
}

func (m *SetConfig) Header() Header  { return m.Hdr }
func (m *SetConfig) SetXid(x uint32) { m.Hdr.Xid = x }

func NewSetConfig(missSendLen uint16) *SetConfig {
	return &SetConfig{Hdr: Header{Version: Version, Type: TypeSetConfig}, MissSendLen: missSendLen}
}

// Match is the 1.0 flow-match tuple. Every field is broken out, but the
// engine itself only rewrites or inspects in_port and dl_type; everything
// else is passed through untouched.
type Match struct {
	Wildcards uint32
	InPort    uint16
	DlSrc     [6]byte
	DlDst     [6]byte
	DlVlan    uint16
	DlVlanPcp uint8
	DlType    uint16
	NwTos     uint8
	NwProto   uint8
	NwSrc     uint32
	NwSrcMask uint8
	NwDst     uint32
	NwDstMask uint8
	TpSrc     uint16
	TpDst     uint16
}

func (m Match) InPortWildcarded() bool { return m.Wildcards&WildcardInPort != 0 }

// Action is a single flow-mod/packet-out action. OutPort is meaningful
// only when Type == ActTypeOutput; MaxLen is the OFPAT_OUTPUT max-bytes
// field, otherwise unused. Value carries the raw payload for the Set*
// actions (vlan id/pcp, MAC, IP, TOS, transport port) which the engine
// never interprets, only relays.
type Action struct {
	Type    uint16
	OutPort uint16
	MaxLen  uint16
	Value   []byte
}

func Output(port uint16) Action { return Action{Type: ActTypeOutput, OutPort: port} }

// FlowMod.
type FlowMod struct {
	Hdr         Header
	Match       Match
	Cookie      uint64
	Command     uint16
	IdleTimeout uint16
	HardTimeout uint16
	Priority    uint16
	BufferID    uint32
	OutPort     uint16
	Flags       uint16
	Actions     []Action
}

func (m *FlowMod) Header() Header  { return m.Hdr }
func (m *FlowMod) SetXid(x uint32) { m.Hdr.Xid = x }

// FlowRemoved.
type FlowRemoved struct {
	Hdr          Header
	Match        Match
	Cookie       uint64
	Priority     uint16
	Reason       uint8
	DurationSec  uint32
	DurationNsec uint32
	IdleTimeout  uint16
	PacketCount  uint64
	ByteCount    uint64
}

func (m *FlowRemoved) Header() Header  { return m.Hdr }
func (m *FlowRemoved) SetXid(x uint32) { m.Hdr.Xid = x }

// PortStatus.
const (
	PortReasonAdd uint8 = iota
	PortReasonDelete
	PortReasonModify
)

type PortStatus struct {
	Hdr    Header
	Reason uint8
	Desc   PhyPort
}

func (m *PortStatus) Header() Header  { return m.Hdr }
func (m *PortStatus) SetXid(x uint32) { m.Hdr.Xid = x }

// PacketIn.
const (
	ReasonNoMatch uint8 = iota
	ReasonAction
)

type PacketIn struct {
	Hdr       Header
	BufferID  uint32
	TotalLen  uint16
	InPort    uint16
	Reason    uint8
	Data      []byte
}

func (m *PacketIn) Header() Header  { return m.Hdr }
func (m *PacketIn) SetXid(x uint32) { m.Hdr.Xid = x }

// PacketOut.
type PacketOut struct {
	Hdr      Header
	BufferID uint32
	InPort   uint16
	Actions  []Action
	Data     []byte
}

func (m *PacketOut) Header() Header  { return m.Hdr }
func (m *PacketOut) SetXid(x uint32) { m.Hdr.Xid = x }

// StatsRequest/StatsReply.
type StatsRequest struct {
	Hdr   Header
	Type  uint16
	Flags uint16
	Flow  *FlowStatsRequest // set iff Type == StatsTypeFlow || StatsTypeAggregate
	Port  *PortStatsRequest // set iff Type == StatsTypePort
}

func (m *StatsRequest) Header() Header  { return m.Hdr }
func (m *StatsRequest) SetXid(x uint32) { m.Hdr.Xid = x }

type FlowStatsRequest struct {
	Match   Match
	TableID uint8
	OutPort uint16
}

type PortStatsRequest struct {
	PortNo uint16
}

type StatsReply struct {
	Hdr       Header
	Type      uint16
	Flags     uint16
	Desc      *DescStats
	Flows     []FlowStats
	Aggregate *AggregateStats
	Table     []TableStats
	Ports     []PortStats
}

func (m *StatsReply) Header() Header  { return m.Hdr }
func (m *StatsReply) SetXid(x uint32) { m.Hdr.Xid = x }
func (m *StatsReply) More() bool      { return m.Flags&StatsReplyFlagMore != 0 }

// EngineDescription is what DESC stats replies with, unconditionally
// (spec.md §4.6): the engine never actually runs on real hardware.
const (
	EngineManufacturer = "Mirage_flowvisor"
	EngineHardware     = "flowvisor"
	EngineSoftware     = "flowvisor"
	EngineSerialNumber = "none"
	EngineDatapathDesc = "Mirage_flowvisor"
)

type DescStats struct {
	Manufacturer string
	Hardware     string
	Software     string
	SerialNum    string
	DatapathDesc string
}

type FlowStats struct {
	TableID      uint8
	Match        Match
	DurationSec  uint32
	DurationNsec uint32
	Priority     uint16
	IdleTimeout  uint16
	HardTimeout  uint16
	Cookie       uint64
	PacketCount  uint64
	ByteCount    uint64
	Actions      []Action
}

type AggregateStats struct {
	PacketCount uint64
	ByteCount   uint64
	FlowCount   uint32
}

// TableStats describes the engine's single virtual table (spec.md §4.2:
// "initialized to a single synthetic entry naming the virtual table").
type TableStats struct {
	TableID      uint8
	Name         string
	Wildcards    uint32
	MaxEntries   uint32
	ActiveCount  uint32
	LookupCount  uint64
	MatchedCount uint64
}

const EngineTableID uint8 = 0
const EngineTableName = "flowvisor"

type PortStats struct {
	PortNo       uint16
	RxPackets    uint64
	TxPackets    uint64
	RxBytes      uint64
	TxBytes      uint64
	RxDropped    uint64
	TxDropped    uint64
	RxErrors     uint64
	TxErrors     uint64
}

// BarrierRequest/BarrierReply.
type BarrierRequest struct{ Hdr Header }

func (m *BarrierRequest) Header() Header  { return m.Hdr }
func (m *BarrierRequest) SetXid(x uint32) { m.Hdr.Xid = x }

type BarrierReply struct{ Hdr Header }

func (m *BarrierReply) Header() Header  { return m.Hdr }
func (m *BarrierReply) SetXid(x uint32) { m.Hdr.Xid = x }

func NewBarrierReply(xid uint32) *BarrierReply {
	return &BarrierReply{Hdr: Header{Version: Version, Type: TypeBarrierReply, Xid: xid}}
}

// Error is both the wire OFPT_ERROR message and the Go error type the
// translators return up through the call stack (SPEC_FULL.md's ambient
// error-handling section).
type Error struct {
	Hdr    Header
	Type   uint16
	Code   uint16
	Data   []byte // the offending message's bytes, echoed back verbatim
}

func (m *Error) Header() Header  { return m.Hdr }
func (m *Error) SetXid(x uint32) { m.Hdr.Xid = x }

func (m *Error) Error() string {
	return "ofp10: error type=" + strconv.Itoa(int(m.Type)) + " code=" + strconv.Itoa(int(m.Code))
}

func NewError(xid uint32, typ, code uint16, data []byte) *Error {
	return &Error{Hdr: Header{Version: Version, Type: TypeError, Xid: xid}, Type: typ, Code: code, Data: data}
}

// Unparsed is the envelope used for any message type this package doesn't
// model a body for. It still carries the header so the session loop can
// reply ERROR(BAD_TYPE) with the original bytes (spec.md §4.8).
type Unparsed struct {
	Hdr  Header
	Raw  []byte
}

func (m *Unparsed) Header() Header  { return m.Hdr }
func (m *Unparsed) SetXid(x uint32) { m.Hdr.Xid = x }
