// Package orbital connects a host process and a worker process over a local
// pipe and runs a small framed RPC protocol across it.
//
// The host creates a uniquely named channel, hands its name to the worker
// through an environment variable, and both sides exchange calls in either
// direction once the worker attaches. There is no network stack involved:
// on Windows the channel is a named pipe, elsewhere it is a pair of FIFOs.
//
// # Architecture Overview
//
// Orbital is split into two layers:
//
//  1. Transport: a Pipe is a duplex byte stream with event delivery (open,
//     data, error, end). Writes issued before the peer connects are queued
//     and flushed in order.
//
//  2. Protocol: a Protocol frames packets onto a Transport, correlates
//     requests with responses by sequence id, and dispatches inbound calls
//     to registered endpoint handlers.
//
// Any failure of the underlying stream is fatal to the Protocol, which then
// calls its exit function with status 1. Close exits with status 0.
//
// # Host and Worker
//
// Bootstrap wires both layers together. Called without the pipe variable set
// it creates a channel and optionally spawns the worker:
//
//	p := orbital.NewProtocol(orbital.WithLogger(logger))
//	p.RegisterFunc("log", handleLog)
//	worker, err := orbital.Bootstrap(p, orbital.BootstrapConfig{
//	    Command: exec.Command("./worker"),
//	})
//
// The same call in the worker finds the variable and attaches:
//
//	p := orbital.NewProtocol()
//	p.RegisterFunc("echo", func(ctx context.Context, args []orbital.Value) (interface{}, error) {
//	    return args[0], nil
//	})
//	_, err := orbital.Bootstrap(p, orbital.BootstrapConfig{})
//
// # Calls
//
// Notify sends a call with no response. Call and CallFunc send a correlated
// call whose response arrives as a slice of Values:
//
//	fut, err := p.Call("echo", "hi")
//	values, err := fut.Wait(ctx)
//
// On builds the same call fluently and can decode the result in place:
//
//	var n int
//	err := p.On("count").Do("items").WithTimeout(time.Second).CallReflect(&n)
//
// Calls never time out on the protocol itself. Giving up a wait leaves the
// call pending until the peer answers or the stream ends.
//
// # Wire Format
//
// Each packet is written as a frame:
//
//	0xFF <payload length as lowercase hex> '\n' <payload>
//
// The payload carries a flags byte (bit 0 call, bit 1 endpoint present), a
// big-endian uint32 sequence id, an optional length-prefixed UTF-8 endpoint
// name and zero or more values. A value is a tag byte (0 null, 1 JSON,
// 2 binary) followed, for JSON and binary, by a big-endian uint32 length and
// the body.
//
// # Platform Support
//
// Pipes are implemented per platform:
//   - Linux/macOS: FIFOs at <tmp>/ipc-<hex>/fifo/{i,o}, published atomically
//   - Windows: \\.\pipe\<hex> via go-winio
package orbital
