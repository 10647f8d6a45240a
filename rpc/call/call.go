package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dMsg/lib/frame"
	"github.com/ValentinKolb/dMsg/rpc/link"
	"github.com/ValentinKolb/dMsg/rpc/serializer"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("call")

var (
	ErrNotServed         = errors.New("call: method not served by peer")
	ErrMalformedResponse = errors.New("call: malformed response")
	ErrEmptyMethod       = errors.New("call: method name must not be empty")
)

// Call is the head of a call request, the arguments follow as further content parts
type Call struct {
	Method string
}

// Return is the head of a successful call response, the results follow
type Return struct {
	Method string
}

// Fault is the response to a call that failed on the serving side
type Fault struct {
	Method  string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("call: %s failed remotely: %s", f.Method, f.Message)
}

// Type names used in the serializer.TypeRegistry
const (
	CallTypeName   = "dmsg.call"
	ReturnTypeName = "dmsg.call.return"
	FaultTypeName  = "dmsg.call.fault"
)

// RegisterTypes registers Call, Return and Fault with r. Both peers need them
func RegisterTypes(r *serializer.TypeRegistry) error {
	if err := serializer.RegisterType[Call](r, CallTypeName); err != nil {
		return err
	}
	if err := serializer.RegisterType[Return](r, ReturnTypeName); err != nil {
		return err
	}
	return serializer.RegisterType[Fault](r, FaultTypeName)
}

// Invoke calls method on the peer of conn with args. All arguments travel in one
// multi content request. The result is nil for methods without result, the single
// result, or a frame.Composite for several results. A failure on the serving side
// is returned as *Fault
func Invoke(ctx context.Context, conn *link.Connection, method string, args ...any) (any, error) {
	if method == "" {
		return nil, ErrEmptyMethod
	}

	request := make(frame.Composite, 0, len(args)+1)
	request = append(request, Call{Method: method})
	request = append(request, args...)

	resp, err := conn.SendRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	return parseResponse(method, resp)
}

// InvokeAs calls method and converts its single result to T
func InvokeAs[T any](ctx context.Context, conn *link.Connection, method string, args ...any) (T, error) {
	var zero T
	res, err := Invoke(ctx, conn, method, args...)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("call: %s returned %T, expected %T: %w", method, res, zero, ErrMalformedResponse)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func parseResponse(method string, resp any) (any, error) {
	switch v := resp.(type) {
	case nil:
		// the automatic empty reply of a peer without dispatcher
		return nil, fmt.Errorf("%s: %w", method, ErrNotServed)
	case Fault:
		return nil, &v
	case Return:
		return nil, nil
	case frame.Composite:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s: empty response: %w", method, ErrMalformedResponse)
		}
		if _, ok := v[0].(Return); !ok {
			return nil, fmt.Errorf("%s: head %T: %w", method, v[0], ErrMalformedResponse)
		}
		results := v[1:]
		if len(results) == 1 {
			return results[0], nil
		}
		return results, nil
	default:
		return nil, fmt.Errorf("%s: unexpected %T: %w", method, resp, ErrMalformedResponse)
	}
}
