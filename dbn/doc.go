// Package dbn frames and decodes the binary record stream sent by the live
// gateway.
//
// A stream is a metadata preamble ("DBN", a version byte and a u32
// little-endian body length) followed by records. Every record starts with a
// 16-byte header whose first byte is the record length in 4-byte words.
//
// Buffer accumulates socket bytes and yields complete frames. Decoder turns
// frames into Records, optionally rewriting version 1 records into the
// version 2 layout. Record.Message returns a typed view.
package dbn
