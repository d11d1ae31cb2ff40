package ofp10

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// headerLen is the fixed 8-byte OpenFlow header: version, type, length, xid.
const headerLen = 8

// Decode reads exactly one OpenFlow message from r. It is intentionally
// narrow: full wire fidelity for every 1.0 message body is out of scope
// (spec.md §1), so every type without a case below comes back as
// *Unparsed with the raw bytes preserved, which is enough for the session
// loop to answer ERROR(BAD_TYPE) without losing the offending message.
// That includes the switch-to-controller types FEATURES_REPLY,
// GET_CONFIG_REPLY, PACKET_IN, FLOW_REMOVED, PORT_STATUS and STATS_REPLY:
// their structs exist, but Decode does not fill them in.
func Decode(r io.Reader) (Message, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h := Header{
		Version: hdr[0],
		Type:    hdr[1],
		Length:  binary.BigEndian.Uint16(hdr[2:4]),
		Xid:     binary.BigEndian.Uint32(hdr[4:8]),
	}
	if h.Length < headerLen {
		return nil, fmt.Errorf("ofp10: decode: header length %d shorter than header", h.Length)
	}
	body := make([]byte, h.Length-headerLen)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}

	switch h.Type {
	case TypeHello:
		return &Hello{Hdr: h}, nil
	case TypeEchoRequest:
		return &EchoRequest{Hdr: h, Data: body}, nil
	case TypeEchoReply:
		return &EchoReply{Hdr: h, Data: body}, nil
	case TypeFeaturesRequest:
		return &FeaturesRequest{Hdr: h}, nil
	case TypeGetConfigRequest:
		return &GetConfigRequest{Hdr: h}, nil
	case TypeSetConfig:
		return decodeSetConfig(h, body)
	case TypeBarrierRequest:
		return &BarrierRequest{Hdr: h}, nil
	case TypeBarrierReply:
		return &BarrierReply{Hdr: h}, nil
	case TypePacketOut:
		return decodePacketOut(h, body)
	case TypeFlowMod:
		return decodeFlowMod(h, body)
	case TypeStatsRequest:
		return decodeStatsRequest(h, body)
	case TypeError:
		return decodeError(h, body)
	default:
		return &Unparsed{Hdr: h, Raw: append(hdr[:], body...)}, nil
	}
}

func decodeSetConfig(h Header, body []byte) (Message, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("ofp10: decode SET_CONFIG: short body")
	}
	return &SetConfig{
		Hdr:         h,
		Flags:       binary.BigEndian.Uint16(body[0:2]),
		MissSendLen: binary.BigEndian.Uint16(body[2:4]),
	}, nil
}

func decodeError(h Header, body []byte) (Message, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("ofp10: decode ERROR: short body")
	}
	return &Error{
		Hdr:  h,
		Type: binary.BigEndian.Uint16(body[0:2]),
		Code: binary.BigEndian.Uint16(body[2:4]),
		Data: body[4:],
	}, nil
}

const actionHeaderLen = 4
const actionOutputLen = 8

func decodeActions(body []byte) ([]Action, error) {
	var actions []Action
	for len(body) > 0 {
		if len(body) < actionHeaderLen {
			return nil, fmt.Errorf("ofp10: decode action: short header")
		}
		typ := binary.BigEndian.Uint16(body[0:2])
		length := binary.BigEndian.Uint16(body[2:4])
		if int(length) > len(body) || length < actionHeaderLen {
			return nil, fmt.Errorf("ofp10: decode action: bad length %d", length)
		}
		payload := body[actionHeaderLen:length]
		a := Action{Type: typ}
		if typ == ActTypeOutput && len(payload) >= 4 {
			a.OutPort = binary.BigEndian.Uint16(payload[0:2])
			a.MaxLen = binary.BigEndian.Uint16(payload[2:4])
		} else {
			a.Value = append([]byte(nil), payload...)
		}
		actions = append(actions, a)
		body = body[length:]
	}
	return actions, nil
}

func encodeActions(actions []Action) []byte {
	var buf bytes.Buffer
	for _, a := range actions {
		switch a.Type {
		case ActTypeOutput:
			writeActionHeader(&buf, a.Type, actionOutputLen)
			writeUint16(&buf, a.OutPort)
			writeUint16(&buf, a.MaxLen)
		default:
			length := actionHeaderLen + len(a.Value)
			writeActionHeader(&buf, a.Type, uint16(length))
			buf.Write(a.Value)
		}
	}
	return buf.Bytes()
}

func writeActionHeader(buf *bytes.Buffer, typ, length uint16) {
	writeUint16(buf, typ)
	writeUint16(buf, length)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

const packetOutFixedLen = 8

func decodePacketOut(h Header, body []byte) (Message, error) {
	if len(body) < packetOutFixedLen {
		return nil, fmt.Errorf("ofp10: decode PACKET_OUT: short body")
	}
	bufferID := binary.BigEndian.Uint32(body[0:4])
	inPort := binary.BigEndian.Uint16(body[4:6])
	actionsLen := binary.BigEndian.Uint16(body[6:8])
	if int(packetOutFixedLen+actionsLen) > len(body) {
		return nil, fmt.Errorf("ofp10: decode PACKET_OUT: actions_len overruns body")
	}
	actions, err := decodeActions(body[packetOutFixedLen : packetOutFixedLen+actionsLen])
	if err != nil {
		return nil, err
	}
	return &PacketOut{
		Hdr:      h,
		BufferID: bufferID,
		InPort:   inPort,
		Actions:  actions,
		Data:     append([]byte(nil), body[packetOutFixedLen+actionsLen:]...),
	}, nil
}

func (m *PacketOut) Encode() []byte {
	actions := encodeActions(m.Actions)
	var buf bytes.Buffer
	writeUint32(&buf, m.BufferID)
	writeUint16(&buf, m.InPort)
	writeUint16(&buf, uint16(len(actions)))
	buf.Write(actions)
	buf.Write(m.Data)
	return encodeWithHeader(m.Hdr, TypePacketOut, buf.Bytes())
}

const matchLen = 40

func decodeMatch(body []byte) (Match, error) {
	if len(body) < matchLen {
		return Match{}, fmt.Errorf("ofp10: decode match: short body")
	}
	var m Match
	m.Wildcards = binary.BigEndian.Uint32(body[0:4])
	m.InPort = binary.BigEndian.Uint16(body[4:6])
	copy(m.DlSrc[:], body[6:12])
	copy(m.DlDst[:], body[12:18])
	m.DlVlan = binary.BigEndian.Uint16(body[18:20])
	m.DlVlanPcp = body[20]
	m.DlType = binary.BigEndian.Uint16(body[22:24])
	m.NwTos = body[24]
	m.NwProto = body[25]
	m.NwSrc = binary.BigEndian.Uint32(body[28:32])
	m.NwDst = binary.BigEndian.Uint32(body[32:36])
	m.TpSrc = binary.BigEndian.Uint16(body[36:38])
	m.TpDst = binary.BigEndian.Uint16(body[38:40])
	return m, nil
}

func encodeMatch(buf *bytes.Buffer, m Match) {
	writeUint32(buf, m.Wildcards)
	writeUint16(buf, m.InPort)
	buf.Write(m.DlSrc[:])
	buf.Write(m.DlDst[:])
	writeUint16(buf, m.DlVlan)
	buf.WriteByte(m.DlVlanPcp)
	buf.WriteByte(0) // pad
	writeUint16(buf, m.DlType)
	buf.WriteByte(m.NwTos)
	buf.WriteByte(m.NwProto)
	buf.Write([]byte{0, 0}) // pad
	writeUint32(buf, m.NwSrc)
	writeUint32(buf, m.NwDst)
	writeUint16(buf, m.TpSrc)
	writeUint16(buf, m.TpDst)
}

const flowModFixedLen = matchLen + 24

func decodeFlowMod(h Header, body []byte) (Message, error) {
	if len(body) < flowModFixedLen {
		return nil, fmt.Errorf("ofp10: decode FLOW_MOD: short body")
	}
	match, err := decodeMatch(body[0:matchLen])
	if err != nil {
		return nil, err
	}
	off := matchLen
	cookie := binary.BigEndian.Uint64(body[off : off+8])
	command := binary.BigEndian.Uint16(body[off+8 : off+10])
	idle := binary.BigEndian.Uint16(body[off+10 : off+12])
	hard := binary.BigEndian.Uint16(body[off+12 : off+14])
	prio := binary.BigEndian.Uint16(body[off+14 : off+16])
	bufferID := binary.BigEndian.Uint32(body[off+16 : off+20])
	outPort := binary.BigEndian.Uint16(body[off+20 : off+22])
	flags := binary.BigEndian.Uint16(body[off+22 : off+24])
	actions, err := decodeActions(body[flowModFixedLen:])
	if err != nil {
		return nil, err
	}
	return &FlowMod{
		Hdr: h, Match: match, Cookie: cookie, Command: command,
		IdleTimeout: idle, HardTimeout: hard, Priority: prio,
		BufferID: bufferID, OutPort: outPort, Flags: flags, Actions: actions,
	}, nil
}

func (m *FlowMod) Encode() []byte {
	var buf bytes.Buffer
	encodeMatch(&buf, m.Match)
	writeUint64(&buf, m.Cookie)
	writeUint16(&buf, m.Command)
	writeUint16(&buf, m.IdleTimeout)
	writeUint16(&buf, m.HardTimeout)
	writeUint16(&buf, m.Priority)
	writeUint32(&buf, m.BufferID)
	writeUint16(&buf, m.OutPort)
	writeUint16(&buf, m.Flags)
	buf.Write(encodeActions(m.Actions))
	return encodeWithHeader(m.Hdr, TypeFlowMod, buf.Bytes())
}

const statsRequestFixedLen = 4

func decodeStatsRequest(h Header, body []byte) (Message, error) {
	if len(body) < statsRequestFixedLen {
		return nil, fmt.Errorf("ofp10: decode STATS_REQUEST: short body")
	}
	typ := binary.BigEndian.Uint16(body[0:2])
	flags := binary.BigEndian.Uint16(body[2:4])
	req := &StatsRequest{Hdr: h, Type: typ, Flags: flags}
	rest := body[statsRequestFixedLen:]
	switch typ {
	case StatsTypeFlow, StatsTypeAggregate:
		if len(rest) < matchLen+4 {
			return nil, fmt.Errorf("ofp10: decode flow STATS_REQUEST: short body")
		}
		match, err := decodeMatch(rest[0:matchLen])
		if err != nil {
			return nil, err
		}
		req.Flow = &FlowStatsRequest{
			Match:   match,
			TableID: rest[matchLen],
			OutPort: binary.BigEndian.Uint16(rest[matchLen+2 : matchLen+4]),
		}
	case StatsTypePort:
		if len(rest) < 8 {
			return nil, fmt.Errorf("ofp10: decode port STATS_REQUEST: short body")
		}
		req.Port = &PortStatsRequest{PortNo: binary.BigEndian.Uint16(rest[0:2])}
	}
	return req, nil
}

func encodeWithHeader(h Header, typ uint8, body []byte) []byte {
	h.Version, h.Type = Version, typ
	h.Length = uint16(headerLen + len(body))
	var buf bytes.Buffer
	buf.WriteByte(h.Version)
	buf.WriteByte(h.Type)
	writeUint16(&buf, h.Length)
	writeUint32(&buf, h.Xid)
	buf.Write(body)
	return buf.Bytes()
}

// Encode serializes msg to its OpenFlow wire representation. *Unparsed is
// written back verbatim; a message type with no case below is an error.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Hello:
		return encodeWithHeader(m.Hdr, TypeHello, nil), nil
	case *FeaturesRequest:
		return encodeWithHeader(m.Hdr, TypeFeaturesRequest, nil), nil
	case *EchoRequest:
		return encodeWithHeader(m.Hdr, TypeEchoRequest, m.Data), nil
	case *EchoReply:
		return encodeWithHeader(m.Hdr, TypeEchoReply, m.Data), nil
	case *SwitchFeatures:
		return encodeSwitchFeatures(m), nil
	case *SwitchConfig:
		var buf bytes.Buffer
		writeUint16(&buf, m.Flags)
		writeUint16(&buf, m.MissSendLen)
		return encodeWithHeader(m.Hdr, TypeGetConfigReply, buf.Bytes()), nil
	case *SetConfig:
		var buf bytes.Buffer
		writeUint16(&buf, m.Flags)
		writeUint16(&buf, m.MissSendLen)
		return encodeWithHeader(m.Hdr, TypeSetConfig, buf.Bytes()), nil
	case *BarrierRequest:
		return encodeWithHeader(m.Hdr, TypeBarrierRequest, nil), nil
	case *BarrierReply:
		return encodeWithHeader(m.Hdr, TypeBarrierReply, nil), nil
	case *PacketOut:
		return m.Encode(), nil
	case *PacketIn:
		return encodePacketIn(m), nil
	case *FlowMod:
		return m.Encode(), nil
	case *FlowRemoved:
		return encodeFlowRemoved(m), nil
	case *PortStatus:
		return encodePortStatus(m), nil
	case *StatsRequest:
		return encodeStatsRequest(m), nil
	case *StatsReply:
		return encodeStatsReply(m), nil
	case *Error:
		var buf bytes.Buffer
		writeUint16(&buf, m.Type)
		writeUint16(&buf, m.Code)
		buf.Write(m.Data)
		return encodeWithHeader(m.Hdr, TypeError, buf.Bytes()), nil
	case *Unparsed:
		return m.Raw, nil
	default:
		return nil, fmt.Errorf("ofp10: encode: unsupported message %T", msg)
	}
}

func encodePhyPort(buf *bytes.Buffer, p PhyPort) {
	writeUint16(buf, p.Number)
	buf.Write(p.HwAddr[:])
	var name [16]byte
	copy(name[:], p.Name)
	buf.Write(name[:])
	writeUint32(buf, p.Config)
	writeUint32(buf, p.State)
	writeUint32(buf, p.Curr)
	writeUint32(buf, p.Advertised)
	writeUint32(buf, p.Supported)
	writeUint32(buf, p.Peer)
}

func encodeSwitchFeatures(m *SwitchFeatures) []byte {
	var buf bytes.Buffer
	writeUint64(&buf, m.DatapathID)
	writeUint32(&buf, m.NBuffers)
	buf.WriteByte(m.NTables)
	buf.Write([]byte{0, 0, 0}) // pad
	writeUint32(&buf, m.Capabilities)
	writeUint32(&buf, m.Actions)
	for _, p := range m.Ports {
		encodePhyPort(&buf, p)
	}
	return encodeWithHeader(m.Hdr, TypeFeaturesReply, buf.Bytes())
}

func encodePacketIn(m *PacketIn) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, m.BufferID)
	writeUint16(&buf, m.TotalLen)
	writeUint16(&buf, m.InPort)
	buf.WriteByte(m.Reason)
	buf.WriteByte(0) // pad
	buf.Write(m.Data)
	return encodeWithHeader(m.Hdr, TypePacketIn, buf.Bytes())
}

func encodeFlowRemoved(m *FlowRemoved) []byte {
	var buf bytes.Buffer
	encodeMatch(&buf, m.Match)
	writeUint64(&buf, m.Cookie)
	writeUint16(&buf, m.Priority)
	buf.WriteByte(m.Reason)
	buf.WriteByte(0) // pad
	writeUint32(&buf, m.DurationSec)
	writeUint32(&buf, m.DurationNsec)
	writeUint16(&buf, m.IdleTimeout)
	buf.Write([]byte{0, 0}) // pad
	writeUint64(&buf, m.PacketCount)
	writeUint64(&buf, m.ByteCount)
	return encodeWithHeader(m.Hdr, TypeFlowRemoved, buf.Bytes())
}

func encodePortStatus(m *PortStatus) []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Reason)
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0}) // pad
	encodePhyPort(&buf, m.Desc)
	return encodeWithHeader(m.Hdr, TypePortStatus, buf.Bytes())
}

func encodeStatsRequest(m *StatsRequest) []byte {
	var buf bytes.Buffer
	writeUint16(&buf, m.Type)
	writeUint16(&buf, m.Flags)
	if m.Flow != nil {
		encodeMatch(&buf, m.Flow.Match)
		buf.WriteByte(m.Flow.TableID)
		buf.WriteByte(0) // pad
		writeUint16(&buf, m.Flow.OutPort)
	}
	if m.Port != nil {
		writeUint16(&buf, m.Port.PortNo)
		buf.Write([]byte{0, 0, 0, 0, 0, 0}) // pad
	}
	return encodeWithHeader(m.Hdr, TypeStatsRequest, buf.Bytes())
}

func encodeStatsReply(m *StatsReply) []byte {
	var buf bytes.Buffer
	writeUint16(&buf, m.Type)
	writeUint16(&buf, m.Flags)
	switch m.Type {
	case StatsTypeDesc:
		if m.Desc != nil {
			writeFixedString(&buf, m.Desc.Manufacturer, 32)
			writeFixedString(&buf, m.Desc.Hardware, 32)
			writeFixedString(&buf, m.Desc.Software, 32)
			writeFixedString(&buf, m.Desc.SerialNum, 32)
			writeFixedString(&buf, m.Desc.DatapathDesc, 256)
		}
	case StatsTypeFlow:
		for _, f := range m.Flows {
			encodeFlowStats(&buf, f)
		}
	case StatsTypeAggregate:
		if m.Aggregate != nil {
			writeUint64(&buf, m.Aggregate.PacketCount)
			writeUint64(&buf, m.Aggregate.ByteCount)
			writeUint32(&buf, m.Aggregate.FlowCount)
			buf.Write([]byte{0, 0, 0, 0}) // pad
		}
	case StatsTypeTable:
		for _, t := range m.Table {
			buf.WriteByte(t.TableID)
			buf.Write([]byte{0, 0, 0}) // pad
			writeFixedString(&buf, t.Name, 32)
			writeUint32(&buf, t.Wildcards)
			writeUint32(&buf, t.MaxEntries)
			writeUint32(&buf, t.ActiveCount)
			writeUint64(&buf, t.LookupCount)
			writeUint64(&buf, t.MatchedCount)
		}
	case StatsTypePort:
		for _, p := range m.Ports {
			writeUint16(&buf, p.PortNo)
			buf.Write([]byte{0, 0, 0, 0, 0, 0}) // pad
			writeUint64(&buf, p.RxPackets)
			writeUint64(&buf, p.TxPackets)
			writeUint64(&buf, p.RxBytes)
			writeUint64(&buf, p.TxBytes)
			writeUint64(&buf, p.RxDropped)
			writeUint64(&buf, p.TxDropped)
			writeUint64(&buf, p.RxErrors)
			writeUint64(&buf, p.TxErrors)
		}
	}
	return encodeWithHeader(m.Hdr, TypeStatsReply, buf.Bytes())
}

func encodeFlowStats(buf *bytes.Buffer, f FlowStats) {
	length := 48 + matchLen + len(encodeActions(f.Actions))
	writeUint16(buf, uint16(length))
	buf.WriteByte(f.TableID)
	buf.WriteByte(0) // pad
	encodeMatch(buf, f.Match)
	writeUint32(buf, f.DurationSec)
	writeUint32(buf, f.DurationNsec)
	writeUint16(buf, f.Priority)
	writeUint16(buf, f.IdleTimeout)
	writeUint16(buf, f.HardTimeout)
	buf.Write([]byte{0, 0, 0, 0, 0, 0}) // pad
	writeUint64(buf, f.Cookie)
	writeUint64(buf, f.PacketCount)
	writeUint64(buf, f.ByteCount)
	buf.Write(encodeActions(f.Actions))
}

func writeFixedString(buf *bytes.Buffer, s string, n int) {
	var b = make([]byte, n)
	copy(b, s)
	buf.Write(b)
}
