package protocol

// Prefix is the single tag byte that starts every RESP element on the wire.
type Prefix byte

const (
	PrefixNone Prefix = 0

	// RESP2
	PrefixSimpleString Prefix = '+'
	PrefixSimpleError  Prefix = '-'
	PrefixInteger      Prefix = ':'
	PrefixBulkString   Prefix = '$'
	PrefixArray        Prefix = '*'

	// RESP3
	PrefixNull               Prefix = '_'
	PrefixBoolean            Prefix = '#'
	PrefixDouble             Prefix = ','
	PrefixBigInteger         Prefix = '('
	PrefixBulkError          Prefix = '!'
	PrefixVerbatimString     Prefix = '='
	PrefixMap                Prefix = '%'
	PrefixSet                Prefix = '~'
	PrefixPush               Prefix = '>'
	PrefixStreamContinuation Prefix = ';'
	PrefixStreamTerminator   Prefix = '.'
	PrefixAttribute          Prefix = '|'
)

var prefixNames = map[Prefix]string{
	PrefixNone:               "none",
	PrefixSimpleString:       "simple-string",
	PrefixSimpleError:        "simple-error",
	PrefixInteger:            "integer",
	PrefixBulkString:         "bulk-string",
	PrefixArray:              "array",
	PrefixNull:               "null",
	PrefixBoolean:            "boolean",
	PrefixDouble:             "double",
	PrefixBigInteger:         "big-integer",
	PrefixBulkError:          "bulk-error",
	PrefixVerbatimString:     "verbatim-string",
	PrefixMap:                "map",
	PrefixSet:                "set",
	PrefixPush:               "push",
	PrefixStreamContinuation: "stream-continuation",
	PrefixStreamTerminator:   "stream-terminator",
	PrefixAttribute:          "attribute",
}

func (p Prefix) String() string {
	if name, ok := prefixNames[p]; ok {
		return name
	}

	return "unknown(" + string(rune(p)) + ")"
}

// flags are the classification facets of the current element.
type flags uint8

const (
	flagScalar flags = 1 << iota
	flagAggregate
	flagNull
	flagStreaming
	flagAttribute
	flagError
	flagInline
)

func (f flags) has(o flags) bool {
	return f&o != 0
}
