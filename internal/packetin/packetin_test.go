package packetin

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/portmap"
	"github.com/crotsos/flowvisor/internal/slice"
	"github.com/crotsos/flowvisor/internal/topology"
)

type fakeResolver struct {
	transitPorts map[uint16]bool
	claimLLDP    bool
}

func (f *fakeResolver) AddPort(dpid uint64, port uint16)    {}
func (f *fakeResolver) RemovePort(dpid uint64, port uint16) {}
func (f *fakeResolver) AddChannel(dpid uint64)              {}
func (f *fakeResolver) RemoveDPID(dpid uint64)              {}
func (f *fakeResolver) FindPath(dpidIn uint64, portIn uint16, dpidOut uint64, portOut uint16) ([]topology.Hop, error) {
	return nil, nil
}
func (f *fakeResolver) IsTransitPort(dpid uint64, port uint16) bool {
	return f.transitPorts[port]
}
func (f *fakeResolver) ProcessLLDP(dpid uint64, inPort uint16, data []byte) bool {
	return f.claimLLDP
}
func (f *fakeResolver) BroadcastTree(dpidIn uint64, portIn uint16) []topology.Hop { return nil }

type fakeSession struct {
	sent []ofp10.Message
}

func (f *fakeSession) Send(msg ofp10.Message) { f.sent = append(f.sent, msg) }
func (f *fakeSession) ID() string              { return "fake" }

func ipv4Frame() []byte {
	data := make([]byte, 20)
	data[12] = 0x08
	data[13] = 0x00
	return data
}

func TestHandleDispatchesToMatchingSlice(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	virt, _ := pm.AddPort(1, 1, ofp10.PhyPort{})
	bm := buffermap.New()
	topo := &fakeResolver{transitPorts: map[uint16]bool{}}
	registry := slice.New()
	sess := &fakeSession{}
	registry.Add(&slice.Slice{ID: "s1", Controller: sess, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	d := New(pm, bm, topo, registry)
	d.Handle(1, &ofp10.PacketIn{Hdr: ofp10.Header{Xid: 1}, InPort: 1, Data: ipv4Frame()})

	Expect(sess.sent).To(HaveLen(1))
	out := sess.sent[0].(*ofp10.PacketIn)
	Expect(out.InPort).To(Equal(virt))
}

func TestHandleDropsOnTransitPort(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	pm.AddPort(1, 1, ofp10.PhyPort{})
	bm := buffermap.New()
	topo := &fakeResolver{transitPorts: map[uint16]bool{1: true}}
	registry := slice.New()
	sess := &fakeSession{}
	registry.Add(&slice.Slice{ID: "s1", Controller: sess, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	d := New(pm, bm, topo, registry)
	d.Handle(1, &ofp10.PacketIn{InPort: 1, Data: ipv4Frame()})

	Expect(sess.sent).To(BeEmpty())
}

func TestHandleDropsWhenLLDPClaimed(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	pm.AddPort(1, 1, ofp10.PhyPort{})
	bm := buffermap.New()
	topo := &fakeResolver{transitPorts: map[uint16]bool{}, claimLLDP: true}
	registry := slice.New()
	sess := &fakeSession{}
	registry.Add(&slice.Slice{ID: "s1", Controller: sess, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	lldp := make([]byte, 20)
	lldp[12] = 0x88
	lldp[13] = 0xcc

	d := New(pm, bm, topo, registry)
	d.Handle(1, &ofp10.PacketIn{InPort: 1, Data: lldp})

	Expect(sess.sent).To(BeEmpty())
}

func TestHandleDropsWhenNoSliceMatches(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	pm.AddPort(1, 1, ofp10.PhyPort{})
	bm := buffermap.New()
	topo := &fakeResolver{transitPorts: map[uint16]bool{}}
	registry := slice.New()

	d := New(pm, bm, topo, registry)
	d.Handle(1, &ofp10.PacketIn{InPort: 1, Data: ipv4Frame()})
	// no panics, no slices registered means nothing to assert on beyond no match
}

func TestHandleDropsOnUnknownPort(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	bm := buffermap.New()
	topo := &fakeResolver{transitPorts: map[uint16]bool{}}
	registry := slice.New()
	sess := &fakeSession{}
	registry.Add(&slice.Slice{ID: "s1", Controller: sess, Filter: slice.Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	d := New(pm, bm, topo, registry)
	d.Handle(1, &ofp10.PacketIn{InPort: 99, Data: ipv4Frame()})

	Expect(sess.sent).To(BeEmpty())
}
