package controllerchan

import (
	"net"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/packetin"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/topology"
	"github.com/crotsos/flowvisor/internal/transport"
	"github.com/crotsos/flowvisor/internal/xidtracker"
)

func newTestHandler(t *testing.T, onJoin func(uint64, *Handler), onLeave func(uint64)) (*Handler, *portmap.Map, *slice.Registry) {
	t.Helper()
	local, _ := net.Pipe()
	sess := transport.NewSession(local)
	pm := portmap.New()
	bm := buffermap.New()
	topo := topology.NewStatic()
	slices := slice.New()
	tracker := xidtracker.New(nil)
	dispatcher := packetin.New(pm, bm, topo, slices)
	h := New(sess, pm, bm, topo, slices, tracker, dispatcher, onJoin, onLeave)
	return h, pm, slices
}

func TestJoinRegistersPortsAndNotifiesSlices(t *testing.T) {
	RegisterTestingT(t)
	var joinedDPID uint64
	h, pm, slices := newTestHandler(t, func(dpid uint64, hh *Handler) { joinedDPID = dpid }, nil)

	ctrl := &fakeSession{}
	slices.Add(&slice.Slice{ID: "s1", Controller: ctrl, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	h.dispatch(&ofp10.SwitchFeatures{
		Hdr:        ofp10.Header{Xid: 1},
		DatapathID: 42,
		Ports:      []ofp10.PhyPort{{Number: 1, Name: "eth0"}},
	})

	Expect(joinedDPID).To(Equal(uint64(42)))
	Expect(h.DPID).To(Equal(uint64(42)))
	_, ok := pm.VirtOfPhys(42, 1)
	Expect(ok).To(BeTrue())
	Expect(ctrl.sent).To(HaveLen(1))
	ps, ok := ctrl.sent[0].(*ofp10.PortStatus)
	Expect(ok).To(BeTrue())
	Expect(ps.Reason).To(Equal(ofp10.PortReasonAdd))
}

func TestPacketInOnlyDispatchedAfterJoin(t *testing.T) {
	RegisterTestingT(t)
	h, _, slices := newTestHandler(t, nil, nil)
	ctrl := &fakeSession{}
	slices.Add(&slice.Slice{ID: "s1", Controller: ctrl, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	// before join, packet-in is dropped silently
	h.dispatch(&ofp10.PacketIn{Hdr: ofp10.Header{Xid: 2}, InPort: 1, Data: make([]byte, 20)})
	Expect(ctrl.sent).To(BeEmpty())

	h.dispatch(&ofp10.SwitchFeatures{Hdr: ofp10.Header{Xid: 1}, DatapathID: 1, Ports: []ofp10.PhyPort{{Number: 1}}})
	ctrl.sent = nil

	h.dispatch(&ofp10.PacketIn{Hdr: ofp10.Header{Xid: 3}, InPort: 1, Data: make([]byte, 20)})
	Expect(ctrl.sent).To(HaveLen(1))
}

func TestHandleFlowRemovedRewritesInPortAndFansOut(t *testing.T) {
	RegisterTestingT(t)
	h, pm, slices := newTestHandler(t, nil, nil)
	virt, _ := pm.AddPort(1, 3, ofp10.PhyPort{})
	h.DPID = 1
	ctrl := &fakeSession{}
	slices.Add(&slice.Slice{ID: "s1", Controller: ctrl, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	h.dispatch(&ofp10.FlowRemoved{Hdr: ofp10.Header{Xid: 9}, Match: ofp10.Match{InPort: 3}})

	Expect(ctrl.sent).To(HaveLen(1))
	fr, ok := ctrl.sent[0].(*ofp10.FlowRemoved)
	Expect(ok).To(BeTrue())
	Expect(fr.Match.InPort).To(Equal(virt))
}

func TestHandlePortStatusDeleteRemovesVirtualPort(t *testing.T) {
	RegisterTestingT(t)
	h, pm, slices := newTestHandler(t, nil, nil)
	pm.AddPort(1, 5, ofp10.PhyPort{})
	h.DPID = 1
	ctrl := &fakeSession{}
	slices.Add(&slice.Slice{ID: "s1", Controller: ctrl, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	h.dispatch(&ofp10.PortStatus{Hdr: ofp10.Header{Xid: 10}, Reason: ofp10.PortReasonDelete, Desc: ofp10.PhyPort{Number: 5}})

	_, ok := pm.VirtOfPhys(1, 5)
	Expect(ok).To(BeFalse())
	Expect(ctrl.sent).To(HaveLen(1))
}

func TestHandleStatsReplyRecordsAgainstTracker(t *testing.T) {
	RegisterTestingT(t)
	local, _ := net.Pipe()
	sess := transport.NewSession(local)
	pm := portmap.New()
	bm := buffermap.New()
	topo := topology.NewStatic()
	slices := slice.New()
	var completed *xidtracker.Record
	tracker := xidtracker.New(func(rec *xidtracker.Record) { completed = rec })
	dispatcher := packetin.New(pm, bm, topo, slices)
	h := New(sess, pm, bm, topo, slices, tracker, dispatcher, nil, nil)
	h.DPID = 1

	xid := tracker.Allocate("ctrl", 77, []uint64{1}, xidtracker.KindFlow)

	h.dispatch(&ofp10.StatsReply{
		Hdr:   ofp10.Header{Xid: xid},
		Type:  ofp10.StatsTypeFlow,
		Flows: []ofp10.FlowStats{{Priority: 1}},
	})

	Expect(completed).NotTo(BeNil())
	Expect(completed.Acc.Flows).To(HaveLen(1))
}

type fakeSession struct {
	sent []ofp10.Message
}

func (f *fakeSession) Send(msg ofp10.Message) { f.sent = append(f.sent, msg) }
func (f *fakeSession) ID() string              { return "fake" }
