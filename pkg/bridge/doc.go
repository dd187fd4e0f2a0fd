// Package bridge defines the hardware bridge contract: the external
// capability that executes one APDU command buffer and returns one
// response buffer.
//
// The raw calling convention (command bytes + length in, fixed 256-byte
// response buffer + length out-parameter, integer status with 0 meaning
// success) is confined to Adapter, which owns buffer allocation and
// bounds checking. The rest of the relay only sees Execute(ctx, command)
// returning response bytes or an error, and performs exactly one
// invocation per inbound command with no retry.
//
// SoftToken is the reference bridge: it echoes the command with status
// word 0x90 0x00 appended. It backs tests and the default relay setup
// when no real hardware entry point is configured.
package bridge
