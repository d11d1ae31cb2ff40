package slice

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/crotsos/flowvisor/internal/ofp10"
)

type fakeSession struct {
	id   string
	sent []ofp10.Message
}

func (f *fakeSession) Send(msg ofp10.Message) { f.sent = append(f.sent, msg) }
func (f *fakeSession) ID() string              { return f.id }

func TestFilterMatchesHonorsOwnWildcards(t *testing.T) {
	RegisterTestingT(t)
	f := Filter{Match: ofp10.Match{Wildcards: ^uint32(0) &^ ofp10.WildcardDlType, DlType: 0x0800}}

	Expect(f.Matches(ofp10.Match{DlType: 0x0800})).To(BeTrue())
	Expect(f.Matches(ofp10.Match{DlType: 0x0806})).To(BeFalse())
}

func TestFilterWildcardedFieldAlwaysMatches(t *testing.T) {
	RegisterTestingT(t)
	f := Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}
	Expect(f.Matches(ofp10.Match{DlType: 0x0800, InPort: 5})).To(BeTrue())
}

func TestRegistryMatchingReturnsOnlyMatchingSlices(t *testing.T) {
	RegisterTestingT(t)
	r := New()
	ctrlA := &fakeSession{id: "a"}
	ctrlB := &fakeSession{id: "b"}
	r.Add(&Slice{ID: "s1", Controller: ctrlA, Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0) &^ ofp10.WildcardDlType, DlType: 0x0800}}})
	r.Add(&Slice{ID: "s2", Controller: ctrlB, Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	matches := r.Matching(ofp10.Match{DlType: 0x0800})
	Expect(matches).To(HaveLen(2))

	matches = r.Matching(ofp10.Match{DlType: 0x0806})
	Expect(matches).To(HaveLen(1))
	Expect(matches[0].ID).To(Equal("s2"))
}

func TestRegistryRemove(t *testing.T) {
	RegisterTestingT(t)
	r := New()
	r.Add(&Slice{ID: "s1", Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})
	r.Add(&Slice{ID: "s2", Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	r.Remove("s1")
	Expect(r.All()).To(HaveLen(1))
	Expect(r.All()[0].ID).To(Equal("s2"))
}

func TestRegistryRemoveSessionDropsAllItsSlices(t *testing.T) {
	RegisterTestingT(t)
	r := New()
	ctrl := &fakeSession{id: "a"}
	other := &fakeSession{id: "b"}
	r.Add(&Slice{ID: "s1", Controller: ctrl, Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})
	r.Add(&Slice{ID: "s2", Controller: ctrl, Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})
	r.Add(&Slice{ID: "s3", Controller: other, Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	r.RemoveSession(ctrl)
	all := r.All()
	Expect(all).To(HaveLen(1))
	Expect(all[0].ID).To(Equal("s3"))
}

func TestRegistryBroadcastDeduplicatesByController(t *testing.T) {
	RegisterTestingT(t)
	r := New()
	ctrl := &fakeSession{id: "a"}
	r.Add(&Slice{ID: "s1", Controller: ctrl, Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})
	r.Add(&Slice{ID: "s2", Controller: ctrl, Filter: Filter{Match: ofp10.Match{Wildcards: ^uint32(0)}}})

	r.Broadcast(&ofp10.Hello{})
	Expect(ctrl.sent).To(HaveLen(1))
}
