package protocol_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/respwire/protocol"
)

var _ = Describe("Reader", func() {
	Describe("ReadNextRaw()", func() {
		table.DescribeTable("decodes one element",
			func(wire string, prefix protocol.Prefix, length int, payload string) {
				r := protocol.NewReader([]byte(wire))
				Expect(r.ReadNextRaw()).To(Succeed())
				Expect(r.Prefix()).To(Equal(prefix))
				Expect(r.Len()).To(Equal(length))
				Expect(r.BytesConsumed()).To(Equal(int64(len(wire))))

				if r.IsInlineScalar() {
					span, ok := r.TryGetSpan()
					Expect(ok).To(BeTrue())
					Expect(string(span)).To(Equal(payload))
				}
			},
			table.Entry("simple string", "+hello world\r\n", protocol.PrefixSimpleString, 11, "hello world"),
			table.Entry("OK", "+OK\r\n", protocol.PrefixSimpleString, 2, "OK"),
			table.Entry("PONG", "+PONG\r\n", protocol.PrefixSimpleString, 4, "PONG"),
			table.Entry("simple error", "-ERR nope\r\n", protocol.PrefixSimpleError, 8, "ERR nope"),
			table.Entry("integer", ":12345\r\n", protocol.PrefixInteger, 5, "12345"),
			table.Entry("single digit integer", ":7\r\n", protocol.PrefixInteger, 1, "7"),
			table.Entry("double digit integer", ":42\r\n", protocol.PrefixInteger, 2, "42"),
			table.Entry("negative integer", ":-1\r\n", protocol.PrefixInteger, 2, "-1"),
			table.Entry("boolean", "#t\r\n", protocol.PrefixBoolean, 1, "t"),
			table.Entry("double", ",3.14\r\n", protocol.PrefixDouble, 4, "3.14"),
			table.Entry("big integer", "(3492890328409238509324850943850943825024385\r\n", protocol.PrefixBigInteger, 43, "3492890328409238509324850943850943825024385"),
			table.Entry("bulk string", "$5\r\nhello\r\n", protocol.PrefixBulkString, 5, "hello"),
			table.Entry("empty bulk string", "$0\r\n\r\n", protocol.PrefixBulkString, 0, ""),
			table.Entry("bulk string with CRLF inside", "$4\r\na\r\nb\r\n", protocol.PrefixBulkString, 4, "a\r\nb"),
			table.Entry("bulk error", "!10\r\nSYNTAX bad\r\n", protocol.PrefixBulkError, 10, "SYNTAX bad"),
			table.Entry("verbatim string", "=8\r\ntxt:Some\r\n", protocol.PrefixVerbatimString, 8, "txt:Some"),
			table.Entry("null", "_\r\n", protocol.PrefixNull, -1, ""),
			table.Entry("legacy null bulk string", "$-1\r\n", protocol.PrefixBulkString, -1, ""),
			table.Entry("legacy null array", "*-1\r\n", protocol.PrefixArray, -1, ""),
			table.Entry("array header", "*3\r\n", protocol.PrefixArray, 3, ""),
			table.Entry("set header", "~2\r\n", protocol.PrefixSet, 2, ""),
			table.Entry("push header", ">3\r\n", protocol.PrefixPush, 3, ""),
			table.Entry("map header counts two children per pair", "%2\r\n", protocol.PrefixMap, 4, ""),
			table.Entry("attribute header counts two children per pair", "|1\r\n", protocol.PrefixAttribute, 2, ""),
			table.Entry("streaming bulk string header", "$?\r\n", protocol.PrefixBulkString, -1, ""),
			table.Entry("streaming array header", "*?\r\n", protocol.PrefixArray, -1, ""),
			table.Entry("stream terminator", ".\r\n", protocol.PrefixStreamTerminator, 0, ""),
		)

		It("classifies elements", func() {
			r := protocol.NewReader([]byte("$-1\r\n_\r\n$?\r\n;3\r\nabc\r\n;0\r\n*?\r\n.\r\n|0\r\n-E\r\n!1\r\nE\r\n"))

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsScalar()).To(BeTrue())
			Expect(r.IsNull()).To(BeTrue())
			Expect(r.IsInlineScalar()).To(BeFalse())

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsNull()).To(BeTrue())
			Expect(r.IsScalar()).To(BeTrue())

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsScalar()).To(BeTrue())
			Expect(r.IsStreaming()).To(BeTrue())

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.Prefix()).To(Equal(protocol.PrefixStreamContinuation))
			Expect(r.IsStreaming()).To(BeTrue())
			Expect(r.Len()).To(Equal(3))

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.Prefix()).To(Equal(protocol.PrefixStreamContinuation))
			Expect(r.IsStreaming()).To(BeFalse())
			Expect(r.IsScalar()).To(BeTrue())
			Expect(r.Len()).To(Equal(0))

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsAggregate()).To(BeTrue())
			Expect(r.IsStreaming()).To(BeTrue())

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsScalar()).To(BeFalse())
			Expect(r.IsAggregate()).To(BeFalse())

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsAttribute()).To(BeTrue())
			Expect(r.IsAggregate()).To(BeTrue())

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsError()).To(BeTrue())

			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.IsError()).To(BeTrue())
			Expect(r.DemandEnd()).To(Succeed())
		})

		It("steps over the payload of the current element", func() {
			r := protocol.NewReader([]byte("$5\r\nhello\r\n:1\r\n"))
			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.Prefix()).To(Equal(protocol.PrefixInteger))
			Expect(r.ScalarInt64()).To(Equal(int64(1)))
		})

		It("moves onto the first child of an aggregate rather than past it", func() {
			r := protocol.NewReader([]byte("*2\r\n:1\r\n:2\r\n"))
			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.BytesConsumed()).To(Equal(int64(4)))
			Expect(r.ReadNextRaw()).To(Succeed())
			Expect(r.ScalarInt64()).To(Equal(int64(1)))
		})

		table.DescribeTable("reports protocol failures",
			func(wire string) {
				r := protocol.NewReader([]byte(wire))
				err := r.ReadNextRaw()
				Expect(errors.Is(err, protocol.ErrProtocol)).To(BeTrue(), "got %v", err)
			},
			table.Entry("unknown prefix", "@foo\r\n"),
			table.Entry("CR without LF", "+OK\rX"),
			table.Entry("negative length", "$-2\r\n"),
			table.Entry("unparseable length", "$abc\r\n"),
			table.Entry("length with junk", "$3x\r\nabc\r\n"),
			table.Entry("too many length digits", "*12345678901234567890\r\n"),
			table.Entry("length out of range", "$9999999999\r\n"),
			table.Entry("payload without CRLF", "$3\r\nabcXY"),
			table.Entry("malformed null", "_XY"),
			table.Entry("malformed terminator", ".\rX"),
			table.Entry("streaming continuation without length", ";?\r\n"),
		)

		It("reports need more data without moving at every split point", func() {
			messages := []string{
				"+OK\r\n",
				"+PONG\r\n",
				":42\r\n",
				"$5\r\nhello\r\n",
				"*2\r\n",
				"$-1\r\n",
				"_\r\n",
				"#f\r\n",
				"$?\r\n",
				";3\r\nabc\r\n",
				"-ERR something\r\n",
			}

			for _, msg := range messages {
				wire := []byte(msg)

				for i := 0; i < len(wire); i++ {
					r := protocol.NewReader(wire[:i])
					ok, err := r.TryReadNextRaw()
					Expect(err).To(Succeed(), "%q split at %d", msg, i)
					Expect(ok).To(BeFalse(), "%q split at %d", msg, i)
					Expect(r.Prefix()).To(Equal(protocol.PrefixNone))
					Expect(r.BytesConsumed()).To(Equal(int64(0)))
					Expect(errors.Is(r.ReadNextRaw(), protocol.ErrIncomplete)).To(BeTrue())

					// the rest of the bytes arriving in a second segment
					s := protocol.NewSequenceReader([][]byte{wire[:i], wire[i:]})
					whole := protocol.NewReader(wire)
					Expect(s.ReadNextRaw()).To(Succeed())
					Expect(whole.ReadNextRaw()).To(Succeed())
					Expect(s.Prefix()).To(Equal(whole.Prefix()))
					Expect(s.Len()).To(Equal(whole.Len()))
					Expect(s.BytesConsumed()).To(Equal(whole.BytesConsumed()))

					if whole.IsInlineScalar() {
						want, err := whole.AppendScalar(nil)
						Expect(err).To(Succeed())
						Expect(s.AppendScalar(nil)).To(Equal(want))
					}
				}
			}
		})

		It("does not commit anything while the element after the current one is incomplete", func() {
			r := protocol.NewReader([]byte("$5\r\nhello\r\n$3\r\nab"))
			Expect(r.ReadNextRaw()).To(Succeed())

			ok, err := r.TryReadNextRaw()
			Expect(err).To(Succeed())
			Expect(ok).To(BeFalse())
			Expect(r.Prefix()).To(Equal(protocol.PrefixBulkString))
			Expect(r.ScalarString()).To(Equal("hello"))
		})
	})

	Describe("ReadNext()", func() {
		It("turns error elements into server errors", func() {
			r := protocol.NewReader([]byte("-WRONGTYPE Operation against a key\r\n+OK\r\n"))

			err := r.ReadNext()
			var serverErr *protocol.ServerError
			Expect(errors.As(err, &serverErr)).To(BeTrue())
			Expect(serverErr.Message).To(Equal("WRONGTYPE Operation against a key"))
			Expect(serverErr.Code()).To(Equal("WRONGTYPE"))
			Expect(serverErr.Prefix).To(Equal(protocol.PrefixSimpleError))

			// the error element was consumed
			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarString()).To(Equal("OK"))
		})

		It("turns bulk errors into server errors", func() {
			r := protocol.NewReader([]byte("!21\r\nSYNTAX invalid syntax\r\n"))

			var serverErr *protocol.ServerError
			Expect(errors.As(r.ReadNext(), &serverErr)).To(BeTrue())
			Expect(serverErr.Message).To(Equal("SYNTAX invalid syntax"))
			Expect(serverErr.Prefix).To(Equal(protocol.PrefixBulkError))
		})

		It("turns streamed bulk errors into server errors", func() {
			wire := []byte("!?\r\n;4\r\nERR \r\n;4\r\nboom\r\n;0\r\n:1\r\n")

			raw := protocol.NewReader(wire)
			Expect(raw.ReadNextRaw()).To(Succeed())
			Expect(raw.IsError()).To(BeTrue())
			Expect(raw.IsStreaming()).To(BeTrue())

			r := protocol.NewReader(wire)

			var serverErr *protocol.ServerError
			Expect(errors.As(r.ReadNext(), &serverErr)).To(BeTrue())
			Expect(serverErr.Message).To(Equal("ERR boom"))
			Expect(serverErr.Code()).To(Equal("ERR"))
			Expect(serverErr.Prefix).To(Equal(protocol.PrefixBulkError))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarInt64()).To(Equal(int64(1)))
			Expect(r.DemandEnd()).To(Succeed())
		})

		It("leaves a truncated streamed bulk error unread", func() {
			r := protocol.NewReader([]byte("!?\r\n;3\r\nERR\r\n"))

			ok, err := r.TryReadNext()
			Expect(err).To(Succeed())
			Expect(ok).To(BeFalse())
			Expect(r.Prefix()).To(Equal(protocol.PrefixNone))
			Expect(r.BytesConsumed()).To(Equal(int64(0)))

			Expect(r.ReadNext()).To(MatchError(protocol.ErrIncomplete))
			Expect(r.BytesConsumed()).To(Equal(int64(0)))
		})

		It("discards attributes without a handler", func() {
			r := protocol.NewReader([]byte("|1\r\n+key-popularity\r\n%1\r\n$1\r\na\r\n,0.19\r\n:2039\r\n"))
			Expect(r.ReadNext()).To(Succeed())
			Expect(r.Prefix()).To(Equal(protocol.PrefixInteger))
			Expect(r.ScalarInt64()).To(Equal(int64(2039)))
			Expect(r.DemandEnd()).To(Succeed())
		})

		It("hands attributes to the handler exactly once", func() {
			wire := []byte("|2\r\n+ttl\r\n:3600\r\n+other\r\n+ignored\r\n$3\r\nbar\r\n")

			type meta struct {
				ttl   int64
				calls int
			}

			attrs := protocol.AttributeReader[*meta]{
				Visit: func(m *meta, key []byte, value *protocol.Reader) (bool, error) {
					m.calls++
					if string(key) != "ttl" {
						return false, nil
					}

					v, err := value.ScalarInt64()
					m.ttl = v
					return true, err
				},
			}

			var m meta

			// incomplete first: the handler must not run yet
			r := protocol.NewReader(wire[:len(wire)-3])
			r.SetAttributeHandler(attrs.Bind(&m))
			ok, err := r.TryReadNext()
			Expect(err).To(Succeed())
			Expect(ok).To(BeFalse())
			Expect(m.calls).To(Equal(0))

			r = protocol.NewReader(wire)
			r.SetAttributeHandler(attrs.Bind(&m))
			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarString()).To(Equal("bar"))
			Expect(m.ttl).To(Equal(int64(3600)))
			Expect(m.calls).To(Equal(2))
		})

		It("returns how many pairs the attribute reader acted on", func() {
			r := protocol.NewReader([]byte("|2\r\n+a\r\n:1\r\n+b\r\n:2\r\n+after\r\n"))
			Expect(r.ReadNextRaw()).To(Succeed())

			sum := int64(0)
			attrs := protocol.AttributeReader[*int64]{
				Visit: func(sum *int64, key []byte, value *protocol.Reader) (bool, error) {
					if string(key) != "b" {
						return false, nil
					}
					v, err := value.ScalarInt64()
					*sum += v
					return true, err
				},
			}

			Expect(attrs.Read(&sum, &r)).To(Equal(1))
			Expect(sum).To(Equal(int64(2)))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarString()).To(Equal("after"))
		})
	})

	Describe("demand helpers", func() {
		It("fail with unexpected element errors", func() {
			r := protocol.NewReader([]byte("*1\r\n$-1\r\n"))
			Expect(r.ReadNext()).To(Succeed())

			Expect(r.DemandAggregate()).To(Succeed())
			Expect(errors.Is(r.DemandScalar(), protocol.ErrUnexpectedElement)).To(BeTrue())
			Expect(errors.Is(r.DemandPrefix(protocol.PrefixMap), protocol.ErrUnexpectedElement)).To(BeTrue())
			Expect(errors.Is(r.DemandEnd(), protocol.ErrUnexpectedElement)).To(BeTrue())

			Expect(r.ReadNext()).To(Succeed())
			Expect(errors.Is(r.DemandNotNull(), protocol.ErrUnexpectedElement)).To(BeTrue())
			Expect(r.DemandEnd()).To(Succeed())
		})

		It("leave the reader in place when ReadNextScalar finds an aggregate", func() {
			r := protocol.NewReader([]byte("*1\r\n:1\r\n"))
			Expect(errors.Is(r.ReadNextScalar(), protocol.ErrUnexpectedElement)).To(BeTrue())
			Expect(r.Prefix()).To(Equal(protocol.PrefixNone))

			Expect(r.ReadNextAggregate()).To(Succeed())
			Expect(r.ReadNextPrefix(protocol.PrefixInteger)).To(Succeed())
		})
	})

	Describe("payload access", func() {
		It("gathers a payload split across segments", func() {
			wire := []byte("$11\r\nhello world\r\n")
			r := protocol.NewSequenceReader(split(wire, 3))
			Expect(r.ReadNextRaw()).To(Succeed())

			_, ok := r.TryGetSpan()
			Expect(ok).To(BeFalse())

			it, err := r.ScalarChunks()
			Expect(err).To(Succeed())

			var chunks []string
			for {
				span, ok, err := it.Next()
				Expect(err).To(Succeed())
				if !ok {
					break
				}
				chunks = append(chunks, string(span))
			}

			Expect(len(chunks)).To(BeNumerically(">", 1))
			Expect(r.ScalarString()).To(Equal("hello world"))
			Expect(r.ScalarEquals([]byte("hello world"))).To(BeTrue())
			Expect(r.ScalarEquals([]byte("hello"))).To(BeFalse())

			buf := make([]byte, 4)
			_, err = r.CopyTo(buf)
			Expect(err).To(HaveOccurred())
		})

		It("walks the chunks of a streaming string", func() {
			r := protocol.NewReader([]byte("$?\r\n;4\r\nHell\r\n;1\r\no\r\n;0\r\n:1\r\n"))
			Expect(r.ReadNext()).To(Succeed())
			Expect(r.IsStreaming()).To(BeTrue())

			it, err := r.ScalarChunks()
			Expect(err).To(Succeed())

			span, ok, err := it.Next()
			Expect(err).To(Succeed())
			Expect(ok).To(BeTrue())
			Expect(string(span)).To(Equal("Hell"))

			span, ok, err = it.Next()
			Expect(err).To(Succeed())
			Expect(ok).To(BeTrue())
			Expect(string(span)).To(Equal("o"))

			_, ok, err = it.Next()
			Expect(err).To(Succeed())
			Expect(ok).To(BeFalse())

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarInt64()).To(Equal(int64(1)))
		})

		It("materializes a streaming string", func() {
			r := protocol.NewReader([]byte("$?\r\n;4\r\nHell\r\n;1\r\no\r\n;0\r\n"))
			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarString()).To(Equal("Hello"))
			Expect(r.DemandEnd()).To(Succeed())
		})

		It("materializes large split payloads through the pool", func() {
			payload := make([]byte, 4096)
			for i := range payload {
				payload[i] = byte('a' + i%26)
			}

			w := protocol.NewBufferSink(nil)
			writer, err := protocol.NewSinkWriter(w)
			Expect(err).To(Succeed())
			Expect(writer.WriteBulk(payload)).To(Succeed())
			Expect(writer.Flush()).To(Succeed())

			r := protocol.NewSequenceReader(split(w.Bytes(), 100))
			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarBytes()).To(Equal(payload))
			Expect(r.ScalarEquals(payload)).To(BeTrue())
		})

		It("parses typed scalars", func() {
			r := protocol.NewReader([]byte(":-42\r\n,inf\r\n,-1.5e3\r\n#t\r\n:0\r\n(12345678901234567890123\r\n=8\r\nmkd:# Hi\r\n$-1\r\n"))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarInt64()).To(Equal(int64(-42)))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarFloat64()).To(Equal(math.Inf(1)))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarFloat64()).To(Equal(-1500.0))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarBool()).To(BeTrue())

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarBool()).To(BeFalse())

			Expect(r.ReadNext()).To(Succeed())
			v, err := r.ScalarBigInt()
			Expect(err).To(Succeed())
			Expect(v.String()).To(Equal("12345678901234567890123"))

			Expect(r.ReadNext()).To(Succeed())
			format, text, err := r.ScalarVerbatim()
			Expect(err).To(Succeed())
			Expect(format).To(Equal("mkd"))
			Expect(text).To(Equal("# Hi"))

			Expect(r.ReadNext()).To(Succeed())
			Expect(r.ScalarBytes()).To(BeNil())
			Expect(r.ScalarString()).To(Equal(""))
			_, err = r.ScalarInt64()
			Expect(errors.Is(err, protocol.ErrUnexpectedElement)).To(BeTrue())
		})

		It("rejects payloads of the wrong shape", func() {
			r := protocol.NewReader([]byte("+hello\r\n"))
			Expect(r.ReadNext()).To(Succeed())

			_, err := r.ScalarInt64()
			Expect(errors.Is(err, protocol.ErrUnexpectedElement)).To(BeTrue())

			_, err = r.ScalarFloat64()
			Expect(errors.Is(err, protocol.ErrUnexpectedElement)).To(BeTrue())

			_, err = r.ScalarBool()
			Expect(errors.Is(err, protocol.ErrUnexpectedElement)).To(BeTrue())
		})
	})
})
