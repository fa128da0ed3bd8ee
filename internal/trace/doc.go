// Package trace captures driver I/O requests to a file.
//
// Every readInt32, writeInt32 and readFloat64 request handled by a port is
// written as one CBOR record with integer keys. Captures are append-only
// and can be filtered and decoded with Reader or the fpstrace command.
package trace
