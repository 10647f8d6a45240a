package serve

import (
	"context"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dMsg/lib/frame"
	"github.com/ValentinKolb/dMsg/rpc/call"
	"github.com/ValentinKolb/dMsg/rpc/link"
)

// newDispatcher registers the builtin call methods
func newDispatcher() *call.Dispatcher {
	d := call.NewDispatcher()

	d.Handle("echo", func(_ context.Context, args []any) (any, error) {
		switch len(args) {
		case 0:
			return nil, nil
		case 1:
			return args[0], nil
		default:
			return frame.Composite(args), nil
		}
	})

	d.Handle("upper", call.Unary(func(_ context.Context, s string) (string, error) {
		return strings.ToUpper(s), nil
	}))

	d.Handle("sum", func(_ context.Context, args []any) (any, error) {
		var sum int64
		for i, a := range args {
			switch v := a.(type) {
			case int:
				sum += int64(v)
			case int32:
				sum += int64(v)
			case int64:
				sum += v
			default:
				return nil, fmt.Errorf("argument %d is %T, expected an integer", i, a)
			}
		}
		return sum, nil
	})

	d.Handle("stats", call.Nullary(func(ctx context.Context) (map[string]any, error) {
		c := call.ConnectionFrom(ctx)
		return map[string]any{
			"link":          c.ID(),
			"state":         c.State().String(),
			"remote":        c.RemoteAddr().String(),
			"last_activity": c.LastActivity().String(),
		}, nil
	}))

	// raw.echo sends every chunk of the buffer back to the caller
	d.Handle("raw.echo", call.Unary(func(ctx context.Context, bufferID int32) (int32, error) {
		c := call.ConnectionFrom(ctx)
		c.OnRaw(bufferID, func(chunk link.RawChunk) any {
			data := make([]byte, len(chunk.Data))
			copy(data, chunk.Data)
			return link.RawChunk{BufferID: chunk.BufferID, Sequence: chunk.Sequence, Data: data}
		})
		return bufferID, nil
	}))

	return d
}
