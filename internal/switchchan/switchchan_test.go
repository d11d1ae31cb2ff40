package switchchan

import (
	"net"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/stats"
	"github.com/crotsos/flowvisor/internal/topology"
	"github.com/crotsos/flowvisor/internal/transport"
	"github.com/crotsos/flowvisor/internal/xidtracker"
)

func newTestHandler(t *testing.T) (*Handler, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	sess := transport.NewSession(local)
	pm := portmap.New()
	bm := buffermap.New()
	topo := topology.NewStatic()
	slices := slice.New()
	tracker := xidtracker.New(nil)
	st := stats.New(pm, tracker, func(uint64) (stats.Switch, bool) { return nil, false }, func() []uint64 { return nil })
	h := New(sess, pm, bm, topo, slices, st, tracker, func(uint64) (PhysicalSwitch, bool) { return nil, false }, func() []uint64 { return nil })
	return h, remote
}

func readMessage(t *testing.T, conn net.Conn) ofp10.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := ofp10.Decode(conn)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestDispatchEchoRequest(t *testing.T) {
	RegisterTestingT(t)
	h, remote := newTestHandler(t)
	defer remote.Close()

	h.dispatch(&ofp10.EchoRequest{Hdr: ofp10.Header{Xid: 5}})
	out := readMessage(t, remote)
	_, ok := out.(*ofp10.EchoReply)
	Expect(ok).To(BeTrue())
	Expect(out.Header().Xid).To(Equal(uint32(5)))
}

func TestDispatchFeaturesRequestReflectsPortMap(t *testing.T) {
	RegisterTestingT(t)
	h, remote := newTestHandler(t)
	defer remote.Close()
	v, _ := h.PortMap.AddPort(1, 1, ofp10.PhyPort{Name: "eth0"})

	h.dispatch(&ofp10.FeaturesRequest{Hdr: ofp10.Header{Xid: 6}})
	out := readMessage(t, remote)
	feat, ok := out.(*ofp10.SwitchFeatures)
	Expect(ok).To(BeTrue())
	Expect(feat.Ports).To(HaveLen(1))
	Expect(feat.Ports[0].Number).To(Equal(v))
}

func TestDispatchBarrierRequest(t *testing.T) {
	RegisterTestingT(t)
	h, remote := newTestHandler(t)
	defer remote.Close()

	h.dispatch(&ofp10.BarrierRequest{Hdr: ofp10.Header{Xid: 7}})
	out := readMessage(t, remote)
	_, ok := out.(*ofp10.BarrierReply)
	Expect(ok).To(BeTrue())
	Expect(out.Header().Xid).To(Equal(uint32(7)))
}

func TestDispatchUnknownTypeIsBadType(t *testing.T) {
	RegisterTestingT(t)
	h, remote := newTestHandler(t)
	defer remote.Close()

	// PortStatus never legitimately arrives from a controller session; it
	// falls through to the default BAD_TYPE case.
	h.dispatch(&ofp10.PortStatus{Hdr: ofp10.Header{Xid: 3}})

	out := readMessage(t, remote)
	errMsg, ok := out.(*ofp10.Error)
	Expect(ok).To(BeTrue())
	Expect(errMsg.Code).To(Equal(ofp10.CodeRequestBadType))
}

func TestDispatchFlowModForwardsToPhysicalSwitch(t *testing.T) {
	RegisterTestingT(t)
	h, remote := newTestHandler(t)
	defer remote.Close()

	in, _ := h.PortMap.AddPort(1, 1, ofp10.PhyPort{})
	out, _ := h.PortMap.AddPort(1, 2, ofp10.PhyPort{})

	var captured ofp10.Message
	h.Switches = func(dpid uint64) (PhysicalSwitch, bool) {
		if dpid != 1 {
			return nil, false
		}
		return physicalSwitchFunc(func(msg ofp10.Message) { captured = msg }), true
	}

	h.dispatch(&ofp10.FlowMod{
		Hdr:      ofp10.Header{Xid: 8},
		Match:    ofp10.Match{Wildcards: ^uint32(0) &^ ofp10.WildcardInPort, InPort: in},
		Command:  ofp10.FCAdd,
		BufferID: ofp10.NoBuffer,
		Actions:  []ofp10.Action{ofp10.Output(out)},
	})

	Expect(captured).NotTo(BeNil())
	fm, ok := captured.(*ofp10.FlowMod)
	Expect(ok).To(BeTrue())
	Expect(fm.Match.InPort).To(Equal(uint16(1)))
}

func TestDispatchFlowModErrorIsSentBack(t *testing.T) {
	RegisterTestingT(t)
	h, remote := newTestHandler(t)
	defer remote.Close()

	h.dispatch(&ofp10.FlowMod{
		Hdr:      ofp10.Header{Xid: 9},
		Match:    ofp10.Match{Wildcards: ^uint32(0) &^ ofp10.WildcardInPort, InPort: 999},
		Command:  ofp10.FCAdd,
		BufferID: ofp10.NoBuffer,
	})

	out := readMessage(t, remote)
	_, ok := out.(*ofp10.Error)
	Expect(ok).To(BeTrue())
}

type physicalSwitchFunc func(ofp10.Message)

func (f physicalSwitchFunc) Send(msg ofp10.Message) { f(msg) }
