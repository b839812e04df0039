package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/respwire/protocol"
)

// children counts the children of the aggregate at the start of wire.
func children(wire string) int {
	r := protocol.NewReader([]byte(wire))
	Expect(r.ReadNext()).To(Succeed())

	it, err := r.AggregateChildren()
	Expect(err).To(Succeed())

	n := 0
	for {
		ok, err := it.Next()
		Expect(err).To(Succeed())
		if !ok {
			return n
		}
		n++
	}
}

var _ = Describe("AggregateIterator", func() {
	It("visits every direct child once", func() {
		Expect(children("*3\r\n:1\r\n:2\r\n:3\r\n")).To(Equal(3))
		Expect(children("*2\r\n*2\r\n:1\r\n:2\r\n$3\r\nfoo\r\n")).To(Equal(2))
		Expect(children("~2\r\n+a\r\n+b\r\n")).To(Equal(2))
		Expect(children("*0\r\n")).To(Equal(0))
		Expect(children("*-1\r\n")).To(Equal(0))
	})

	It("visits keys and values of a map", func() {
		Expect(children("%2\r\n+first\r\n:1\r\n+second\r\n:2\r\n")).To(Equal(4))
	})

	It("visits the children of a streaming aggregate up to its terminator", func() {
		Expect(children("*?\r\n:1\r\n*?\r\n:2\r\n.\r\n$?\r\n;1\r\na\r\n;0\r\n.\r\n")).To(Equal(3))
	})

	It("does not count attributes as children", func() {
		Expect(children("*2\r\n|1\r\n+ttl\r\n:10\r\n:1\r\n:2\r\n")).To(Equal(2))
	})

	It("clips each child view to its own sub-tree", func() {
		r := protocol.NewReader([]byte("*2\r\n*2\r\n:1\r\n:2\r\n+next\r\n"))
		Expect(r.ReadNext()).To(Succeed())

		it, err := r.AggregateChildren()
		Expect(err).To(Succeed())

		ok, err := it.Next()
		Expect(err).To(Succeed())
		Expect(ok).To(BeTrue())

		child := it.Value()
		Expect(child.Remaining()).To(Equal(int64(len("*2\r\n:1\r\n:2\r\n"))))
		Expect(child.ReadNext()).To(Succeed())
		Expect(child.Len()).To(Equal(2))

		nums, err := protocol.ReadAggregate(&child, (*protocol.Reader).ScalarInt64)
		Expect(err).To(Succeed())
		Expect(nums).To(Equal([]int64{1, 2}))
		Expect(child.DemandEnd()).To(Succeed())

		ok, err = it.Next()
		Expect(err).To(Succeed())
		Expect(ok).To(BeTrue())

		child = it.Value()
		Expect(child.ReadNext()).To(Succeed())
		Expect(child.ScalarString()).To(Equal("next"))
	})

	It("ends up where SkipChildren does", func() {
		for _, wire := range []string{
			"*3\r\n:1\r\n*1\r\n+x\r\n$2\r\nab\r\n:9\r\n",
			"%1\r\n+k\r\n*2\r\n_\r\n#t\r\n:9\r\n",
			"*?\r\n:1\r\n*?\r\n.\r\n.\r\n:9\r\n",
			"*-1\r\n:9\r\n",
		} {
			skipped := protocol.NewReader([]byte(wire))
			Expect(skipped.ReadNext()).To(Succeed())
			Expect(skipped.SkipChildren()).To(Succeed())

			moved := protocol.NewReader([]byte(wire))
			Expect(moved.ReadNext()).To(Succeed())
			it, err := moved.AggregateChildren()
			Expect(err).To(Succeed())

			// look at the first child only, MovePast drains the rest
			_, err = it.Next()
			Expect(err).To(Succeed())
			Expect(it.MovePast(&moved)).To(Succeed())

			Expect(moved.BytesConsumed()).To(Equal(skipped.BytesConsumed()), wire)

			Expect(moved.ReadNext()).To(Succeed())
			Expect(moved.ScalarInt64()).To(Equal(int64(9)))
		}
	})

	It("leaves SkipChildren untouched when the sub-tree is incomplete", func() {
		r := protocol.NewReader([]byte("*2\r\n:1\r\n"))
		Expect(r.ReadNext()).To(Succeed())

		ok, err := r.TrySkipChildren()
		Expect(err).To(Succeed())
		Expect(ok).To(BeFalse())
		Expect(r.Prefix()).To(Equal(protocol.PrefixArray))
		Expect(errors.Is(r.SkipChildren(), protocol.ErrIncomplete)).To(BeTrue())
	})

	It("rejects a terminator inside a sized aggregate", func() {
		r := protocol.NewReader([]byte("*2\r\n:1\r\n.\r\n"))
		Expect(r.ReadNext()).To(Succeed())
		Expect(errors.Is(r.SkipChildren(), protocol.ErrProtocol)).To(BeTrue())
	})

	Describe("ReadAggregate()", func() {
		It("projects a streaming aggregate", func() {
			r := protocol.NewReader([]byte("~?\r\n$1\r\na\r\n$1\r\nb\r\n.\r\n+after\r\n"))
			Expect(r.ReadNext()).To(Succeed())

			members, err := protocol.ReadAggregate(&r, (*protocol.Reader).ScalarString)
			Expect(err).To(Succeed())
			Expect(members).To(Equal([]string{"a", "b"}))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarString()).To(Equal("after"))
		})

		It("returns nil for a null aggregate", func() {
			r := protocol.NewReader([]byte("*-1\r\n"))
			Expect(r.ReadNext()).To(Succeed())

			members, err := protocol.ReadAggregate(&r, (*protocol.Reader).ScalarString)
			Expect(err).To(Succeed())
			Expect(members).To(BeNil())
		})

		It("stops at the first projection failure", func() {
			r := protocol.NewReader([]byte("*2\r\n:1\r\n+two\r\n"))
			Expect(r.ReadNext()).To(Succeed())

			_, err := protocol.ReadAggregate(&r, (*protocol.Reader).ScalarInt64)
			Expect(errors.Is(err, protocol.ErrUnexpectedElement)).To(BeTrue())
		})
	})

	Describe("FillAll()", func() {
		It("fills no more than the destination holds", func() {
			r := protocol.NewReader([]byte("*3\r\n:1\r\n:2\r\n:3\r\n"))
			Expect(r.ReadNext()).To(Succeed())

			it, err := r.AggregateChildren()
			Expect(err).To(Succeed())

			dst := make([]int64, 2)
			Expect(protocol.FillAll(&it, dst, (*protocol.Reader).ScalarInt64)).To(Equal(2))
			Expect(dst).To(Equal([]int64{1, 2}))

			dst = make([]int64, 2)
			Expect(protocol.FillAll(&it, dst, (*protocol.Reader).ScalarInt64)).To(Equal(1))
			Expect(dst[0]).To(Equal(int64(3)))
		})
	})
})
