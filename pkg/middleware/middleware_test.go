package middleware

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainApply(t *testing.T) {
	t.Run("should run the first configured interceptor outermost", func(t *testing.T) {
		var order []string
		outer := func(ctx context.Context, next Resolver, field *FieldContext) (interface{}, error) {
			order = append(order, "outer:before")
			value, err := next(ctx, field)
			order = append(order, "outer:after")
			return value, err
		}
		inner := func(ctx context.Context, next Resolver, field *FieldContext) (interface{}, error) {
			order = append(order, "inner:before")
			value, err := next(ctx, field)
			order = append(order, "inner:after")
			return value, err
		}
		resolver := func(ctx context.Context, field *FieldContext) (interface{}, error) {
			order = append(order, "resolve")
			return "done", nil
		}

		value, err := NewChain(outer, inner).Apply(resolver)(context.Background(), &FieldContext{})
		require.NoError(t, err)
		assert.Equal(t, "done", value)
		assert.Equal(t, []string{"outer:before", "inner:before", "resolve", "inner:after", "outer:after"}, order)
	})

	t.Run("should let an interceptor short-circuit without calling next", func(t *testing.T) {
		resolved := false
		blocker := func(ctx context.Context, next Resolver, field *FieldContext) (interface{}, error) {
			return nil, errors.New("denied")
		}
		resolver := func(ctx context.Context, field *FieldContext) (interface{}, error) {
			resolved = true
			return "unreachable", nil
		}

		_, err := NewChain(blocker).Apply(resolver)(context.Background(), &FieldContext{})
		assert.EqualError(t, err, "denied")
		assert.False(t, resolved)
	})

	t.Run("should let an interceptor rewrite the resolved value", func(t *testing.T) {
		upper := func(ctx context.Context, next Resolver, field *FieldContext) (interface{}, error) {
			value, err := next(ctx, field)
			if err != nil {
				return nil, err
			}
			return value.(string) + "!", nil
		}
		resolver := func(ctx context.Context, field *FieldContext) (interface{}, error) {
			return "hi", nil
		}

		value, err := NewChain(upper).Apply(resolver)(context.Background(), &FieldContext{})
		require.NoError(t, err)
		assert.Equal(t, "hi!", value)
	})

	t.Run("should pass the field context through untouched", func(t *testing.T) {
		field := &FieldContext{
			ObjectType: "Query",
			FieldName:  "hero",
			Args:       map[string]interface{}{"episode": "EMPIRE"},
		}
		var seen *FieldContext
		spy := func(ctx context.Context, next Resolver, fc *FieldContext) (interface{}, error) {
			seen = fc
			return next(ctx, fc)
		}
		resolver := func(ctx context.Context, fc *FieldContext) (interface{}, error) {
			return nil, nil
		}

		_, err := NewChain(spy).Apply(resolver)(context.Background(), field)
		require.NoError(t, err)
		assert.Same(t, field, seen)
	})

	t.Run("should apply the bare resolver for an empty chain", func(t *testing.T) {
		resolver := func(ctx context.Context, field *FieldContext) (interface{}, error) {
			return 42, nil
		}
		chain := NewChain()
		assert.Equal(t, 0, chain.Len())

		value, err := chain.Apply(resolver)(context.Background(), &FieldContext{})
		require.NoError(t, err)
		assert.Equal(t, 42, value)
	})
}
