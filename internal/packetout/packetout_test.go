package packetout

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/crotsos/flowvisor/internal/buffermap"
	"github.com/crotsos/flowvisor/internal/ofp10"
	"github.com/crotsos/flowvisor/internal/portmap"
)

func TestTranslateDirectOutputToAnotherSwitch(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	in, _ := pm.AddPort(1, 1, ofp10.PhyPort{})
	out, _ := pm.AddPort(2, 2, ofp10.PhyPort{})
	bm := buffermap.New()

	po := &ofp10.PacketOut{
		Hdr:      ofp10.Header{Xid: 1},
		BufferID: ofp10.NoBuffer,
		InPort:   in,
		Actions:  []ofp10.Action{ofp10.Output(out)},
		Data:     []byte{9},
	}

	emissions, err := Translate(pm, bm, []uint64{1, 2}, po)
	Expect(err).NotTo(HaveOccurred())
	Expect(emissions).To(HaveLen(1))
	Expect(emissions[0].DPID).To(Equal(uint64(2)))
	Expect(emissions[0].Msg.Actions[0].OutPort).To(Equal(uint16(2)))
	Expect(emissions[0].Msg.Data).To(Equal([]byte{9}))
}

func TestTranslateConsumesBufferedData(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	in, _ := pm.AddPort(1, 1, ofp10.PhyPort{})
	out, _ := pm.AddPort(1, 2, ofp10.PhyPort{})
	bm := buffermap.New()
	id := bm.Allocate(1, []byte{7, 7})

	po := &ofp10.PacketOut{
		Hdr:      ofp10.Header{Xid: 2},
		BufferID: id,
		InPort:   in,
		Actions:  []ofp10.Action{ofp10.Output(out)},
	}

	emissions, err := Translate(pm, bm, []uint64{1}, po)
	Expect(err).NotTo(HaveOccurred())
	Expect(emissions[0].Msg.Data).To(Equal([]byte{7, 7}))
	Expect(emissions[0].Msg.BufferID).To(Equal(ofp10.NoBuffer))

	_, ok := bm.Take(id)
	Expect(ok).To(BeFalse())
}

func TestTranslateUnknownBufferIsBufferUnknown(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	in, _ := pm.AddPort(1, 1, ofp10.PhyPort{})
	bm := buffermap.New()

	po := &ofp10.PacketOut{
		Hdr:      ofp10.Header{Xid: 3},
		BufferID: 42,
		InPort:   in,
	}

	_, err := Translate(pm, bm, []uint64{1}, po)
	Expect(err).To(HaveOccurred())
	ofpErr, ok := err.(*ofp10.Error)
	Expect(ok).To(BeTrue())
	Expect(ofpErr.Code).To(Equal(ofp10.CodeRequestBufferUnknown))
}

func TestTranslateFloodFromKnownOriginReachesEveryOtherDPID(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	in, _ := pm.AddPort(1, 1, ofp10.PhyPort{})
	bm := buffermap.New()

	po := &ofp10.PacketOut{
		Hdr:      ofp10.Header{Xid: 4},
		BufferID: ofp10.NoBuffer,
		InPort:   in,
		Actions:  []ofp10.Action{ofp10.Output(ofp10.PFlood)},
		Data:     []byte{1},
	}

	emissions, err := Translate(pm, bm, []uint64{1, 2, 3}, po)
	Expect(err).NotTo(HaveOccurred())
	Expect(emissions).To(HaveLen(3))
	dpids := map[uint64]bool{}
	for _, e := range emissions {
		dpids[e.DPID] = true
	}
	Expect(dpids).To(HaveKey(uint64(1)))
	Expect(dpids).To(HaveKey(uint64(2)))
	Expect(dpids).To(HaveKey(uint64(3)))
}

func TestTranslateFloodWithoutOriginIsBadStat(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	bm := buffermap.New()

	po := &ofp10.PacketOut{
		Hdr:      ofp10.Header{Xid: 5},
		BufferID: ofp10.NoBuffer,
		InPort:   ofp10.PController,
		Actions:  []ofp10.Action{ofp10.Output(ofp10.PFlood)},
		Data:     []byte{1},
	}

	_, err := Translate(pm, bm, []uint64{1}, po)
	Expect(err).To(HaveOccurred())
	ofpErr, ok := err.(*ofp10.Error)
	Expect(ok).To(BeTrue())
	Expect(ofpErr.Code).To(Equal(ofp10.CodeRequestBadStat))
}

func TestTranslateOutputToControllerIsBadStat(t *testing.T) {
	RegisterTestingT(t)
	pm := portmap.New()
	in, _ := pm.AddPort(1, 1, ofp10.PhyPort{})
	bm := buffermap.New()

	po := &ofp10.PacketOut{
		Hdr:      ofp10.Header{Xid: 6},
		BufferID: ofp10.NoBuffer,
		InPort:   in,
		Actions:  []ofp10.Action{ofp10.Output(ofp10.PController)},
		Data:     []byte{1},
	}

	_, err := Translate(pm, bm, []uint64{1}, po)
	Expect(err).To(HaveOccurred())
}
