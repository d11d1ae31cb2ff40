package buffermap

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestAllocateThenTakeIsSingleUse(t *testing.T) {
	RegisterTestingT(t)
	m := New()
	id := m.Allocate(1, []byte{1, 2, 3})

	entry, ok := m.Take(id)
	Expect(ok).To(BeTrue())
	Expect(entry.DPID).To(Equal(uint64(1)))
	Expect(entry.Data).To(Equal([]byte{1, 2, 3}))

	_, ok = m.Take(id)
	Expect(ok).To(BeFalse())
}

func TestTakeUnknownID(t *testing.T) {
	RegisterTestingT(t)
	m := New()
	_, ok := m.Take(999)
	Expect(ok).To(BeFalse())
}

func TestAllocateIDsAreDistinct(t *testing.T) {
	RegisterTestingT(t)
	m := New()
	a := m.Allocate(1, nil)
	b := m.Allocate(1, nil)
	Expect(a).NotTo(Equal(b))
}

func TestReleaseDatapathDropsOnlyItsEntries(t *testing.T) {
	RegisterTestingT(t)
	m := New()
	a := m.Allocate(1, []byte("a"))
	b := m.Allocate(2, []byte("b"))

	m.ReleaseDatapath(1)

	_, ok := m.Take(a)
	Expect(ok).To(BeFalse())
	entry, ok := m.Take(b)
	Expect(ok).To(BeTrue())
	Expect(entry.Data).To(Equal([]byte("b")))
}
