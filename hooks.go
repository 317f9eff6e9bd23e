package orbital

import "context"

// DispatchHook provides observability callpoints around inbound call dispatch.
// Hooks run on the dispatch goroutine; a panicking hook is recovered and
// logged.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks.
type DispatchInfo struct {
	Endpoint   string // registered endpoint name
	SeqID      uint32 // sequence id of the inbound call, 0 for fire-and-forget
	Correlated bool   // a response will be sent
	Args       int    // number of argument values
	ArgBytes   int    // total size of the argument bodies
	Transport  string // transport name
}

func argBytes(values []Value) int {
	n := 0
	for _, v := range values {
		n += len(v.data)
	}
	return n
}
