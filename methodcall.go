package orbital

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// MethodCall builds a correlated call to a remote endpoint:
//
//	var sum int
//	err := p.On("add").Do(1, 2).WithTimeout(time.Second).CallReflect(&sum)
type MethodCall struct {
	p        *Protocol
	endpoint string
	args     []interface{}
	timeout  time.Duration
	ctx      context.Context
}

// On begins a call chain for endpoint.
func (p *Protocol) On(endpoint string) *MethodCall {
	return &MethodCall{p: p, endpoint: endpoint, ctx: context.Background()}
}

// Do appends positional arguments. Each is encoded with NewValue when the call
// is sent.
func (mc *MethodCall) Do(args ...interface{}) *MethodCall {
	mc.args = append(mc.args, args...)
	return mc
}

// WithTimeout bounds how long Call waits for the response. Zero waits
// indefinitely. Timing out only stops the wait; the call stays pending on the
// protocol and a late response is still consumed.
func (mc *MethodCall) WithTimeout(timeout time.Duration) *MethodCall {
	mc.timeout = timeout
	return mc
}

// WithContext sets the context Call waits under.
func (mc *MethodCall) WithContext(ctx context.Context) *MethodCall {
	if ctx != nil {
		mc.ctx = ctx
	}
	return mc
}

// Call sends the request and waits for the response values.
func (mc *MethodCall) Call() ([]Value, error) {
	fut, err := mc.p.Call(mc.endpoint, mc.args...)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", mc.endpoint, err)
	}

	ctx := mc.ctx
	if mc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mc.timeout)
		defer cancel()
	}

	values, err := fut.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("call %s: no response after %v: %w", mc.endpoint, mc.timeout, err)
		}
		return nil, fmt.Errorf("call %s: %w", mc.endpoint, err)
	}
	return values, nil
}

// CallReflect sends the request and decodes the first response value into
// target, which must be a non-nil pointer. An empty response leaves target
// untouched.
func (mc *MethodCall) CallReflect(target interface{}) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}

	values, err := mc.Call()
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := values[0].Decode(target); err != nil {
		return fmt.Errorf("decode %s result: %w", mc.endpoint, err)
	}
	return nil
}
