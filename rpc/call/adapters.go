package call

import (
	"context"
	"fmt"
)

// Nullary adapts a method without arguments
func Nullary[R any](fn func(ctx context.Context) (R, error)) Method {
	return func(ctx context.Context, args []any) (any, error) {
		if err := arity(args, 0); err != nil {
			return nil, err
		}
		return fn(ctx)
	}
}

// Unary adapts a method with one argument of type A
func Unary[A, R any](fn func(ctx context.Context, a A) (R, error)) Method {
	return func(ctx context.Context, args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
}

// Binary adapts a method with two arguments of types A and B
func Binary[A, B, R any](fn func(ctx context.Context, a A, b B) (R, error)) Method {
	return func(ctx context.Context, args []any) (any, error) {
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}

func arity(args []any, want int) error {
	if len(args) != want {
		return fmt.Errorf("expected %d arguments, got %d", want, len(args))
	}
	return nil
}

func arg[T any](args []any, i int) (T, error) {
	v, ok := args[i].(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("argument %d is %T, expected %T", i, args[i], zero)
	}
	return v, nil
}
