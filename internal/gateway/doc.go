// Package gateway defines the wire format spoken with the chat gateway.
//
// Every frame in either direction is a JSON envelope:
//
//	{"op": 10, "d": {...}, "s": 42, "t": "MESSAGE_CREATE"}
//
// The package holds the opcode table, the envelope codec, the outbound
// commands (Heartbeat, Identify) and the intents catalog sent during Identify.
// It has no knowledge of connections or shards.
package gateway
