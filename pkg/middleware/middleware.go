// Package middleware composes user-supplied field interceptors into a fixed
// resolution chain. The chain is built once at startup; no per-request
// recomposition happens.
package middleware

import (
	"context"
)

// FieldContext describes the field currently being resolved. Interceptors
// receive it read-only; the Values map is shared by every field of one
// operation and carries the authenticated identity under the "auth" key.
type FieldContext struct {
	// ObjectType is the GraphQL type that declares the field.
	ObjectType string
	// FieldName is the schema name of the field, not its alias.
	FieldName string
	// Path is the response path down to this field.
	Path []interface{}
	// Args holds the coerced argument values.
	Args map[string]interface{}
	// Source is the parent value the field is resolved against.
	Source interface{}
	// Values is the per-operation context value map.
	Values map[string]interface{}
}

// Resolver produces the value for one field.
type Resolver func(ctx context.Context, field *FieldContext) (interface{}, error)

// Interceptor wraps field resolution. Calling next dispatches to the rest of
// the chain; returning without calling it short-circuits the field.
type Interceptor func(ctx context.Context, next Resolver, field *FieldContext) (interface{}, error)

// Chain is an ordered interceptor list. The first interceptor is outermost:
// it runs first and its next call dispatches to the second, down to the
// actual resolver.
type Chain struct {
	interceptors []Interceptor
}

func NewChain(interceptors ...Interceptor) *Chain {
	return &Chain{
		interceptors: interceptors,
	}
}

func (c *Chain) Len() int {
	return len(c.interceptors)
}

// Apply wraps resolver with the whole chain and returns the composed
// resolver. Composition happens here exactly once; the returned Resolver is
// safe for concurrent use as long as the interceptors are.
func (c *Chain) Apply(resolver Resolver) Resolver {
	composed := resolver
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := composed
		composed = func(ctx context.Context, field *FieldContext) (interface{}, error) {
			return interceptor(ctx, next, field)
		}
	}
	return composed
}
