package graphql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalRequest(t *testing.T) {
	t.Run("should decode a complete request", func(t *testing.T) {
		var request Request
		err := UnmarshalRequest(strings.NewReader(`{"query":"{ hello }","operationName":"Op","variables":{"a":1}}`), &request)
		require.NoError(t, err)
		assert.Equal(t, "{ hello }", request.Query)
		assert.Equal(t, "Op", request.OperationName)
		assert.JSONEq(t, `{"a":1}`, string(request.Variables))
	})

	t.Run("should fail on an empty reader", func(t *testing.T) {
		var request Request
		err := UnmarshalRequest(strings.NewReader(""), &request)
		assert.ErrorIs(t, err, ErrEmptyRequest)
	})
}

func TestRequestHasQuery(t *testing.T) {
	t.Run("should treat whitespace as no query", func(t *testing.T) {
		request := Request{Query: "  \n\t "}
		assert.False(t, request.HasQuery())
	})

	t.Run("should accept any non-blank query", func(t *testing.T) {
		request := Request{Query: "{ hello }"}
		assert.True(t, request.HasQuery())
	})
}

func TestRequestDecodeVariables(t *testing.T) {
	t.Run("should return nil for absent variables", func(t *testing.T) {
		request := Request{}
		variables, err := request.DecodeVariables()
		require.NoError(t, err)
		assert.Nil(t, variables)
	})

	t.Run("should decode a variables object", func(t *testing.T) {
		request := Request{Variables: []byte(`{"episode":"EMPIRE","limit":2}`)}
		variables, err := request.DecodeVariables()
		require.NoError(t, err)
		assert.Equal(t, "EMPIRE", variables["episode"])
		assert.Equal(t, float64(2), variables["limit"])
	})

	t.Run("should reject non-object variables", func(t *testing.T) {
		request := Request{Variables: []byte(`[1,2]`)}
		_, err := request.DecodeVariables()
		assert.Error(t, err)
	})
}
