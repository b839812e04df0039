// Package protocol implements a client side codec for the Redis serialization protocol, both
// the RESP2 forms and the RESP3 additions.
//
// - `Reader` - a cursor that decodes one element at a time from one contiguous window or a
//              chain of windows, without copying payloads.
// - `ScanState` - tells a network loop when one complete top-level message has arrived.
// - `Writer` - the encoding mirror of Reader, writing into windows handed out by a `Sink`.
// - `CommandMap` - rewrites or disables command names as they are written.
//
// === Wire format
//
//   ```
//     +OK\r\n                          simple string       -ERR msg\r\n   simple error
//     :42\r\n                          integer             _\r\n          null
//     $5\r\nhello\r\n                  bulk string         $-1\r\n        legacy null
//     *2\r\n$4\r\nPING\r\n$0\r\n\r\n   array               %1\r\n...      map (key, value)
//     $?\r\n;4\r\nHell\r\n;1\r\no\r\n;0\r\n                   streaming bulk string
//     *?\r\n:1\r\n:2\r\n.\r\n                                streaming array
//     |1\r\n+ttl\r\n:3600\r\n$3\r\nbar\r\n                   attribute, then its data
//   ```
//
// === Counting
//
// Maps and attributes report two children per pair so that every aggregate can be walked the
// same way, one child at a time.
//
// === Partial data
//
// Every decode runs against a copy of the cursor and is only committed once the whole element
// is available. "Need more data" is therefore never an error and never changes anything: the
// Try methods return false and the others return ErrIncomplete, and the same call can simply be
// repeated once more bytes have arrived.
package protocol
