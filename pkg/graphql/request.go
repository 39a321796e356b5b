package graphql

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrEmptyRequest = errors.New("the provided request is empty")
)

// Request is a single GraphQL operation as it arrived on the wire. It is
// immutable once parsed; batches are ordered slices of Requests and keep
// their order all the way into the response body.
type Request struct {
	OperationName string          `json:"operationName,omitempty"`
	Variables     json.RawMessage `json:"variables,omitempty"`
	Query         string          `json:"query"`
}

func UnmarshalRequest(reader io.Reader, request *Request) error {
	requestBytes, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	if len(requestBytes) == 0 {
		return ErrEmptyRequest
	}

	return json.Unmarshal(requestBytes, request)
}

// HasQuery reports whether the query is non-empty after trimming. Requests
// without one never reach the engine.
func (r *Request) HasQuery() bool {
	return strings.TrimSpace(r.Query) != ""
}

// DecodeVariables unmarshals the raw variables into a map. A missing or
// null variables payload yields a nil map, not an error.
func (r *Request) DecodeVariables() (map[string]interface{}, error) {
	if len(r.Variables) == 0 {
		return nil, nil
	}
	var variables map[string]interface{}
	if err := json.Unmarshal(r.Variables, &variables); err != nil {
		return nil, errors.Wrap(err, "decode variables")
	}
	return variables, nil
}
