package graphql

import (
	"encoding/json"
	"io"
)

// Null is the literal data value for an operation that started executing
// but resolved to nothing, as opposed to one that never executed (nil Data,
// key omitted).
var Null = json.RawMessage("null")

// Result is the outcome of exactly one operation.
type Result struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors Errors          `json:"errors,omitempty"`
}

func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Result) WriteResponse(writer io.Writer) (n int, err error) {
	responseBytes, err := r.Marshal()
	if err != nil {
		return 0, err
	}
	return writer.Write(responseBytes)
}

// ResultFromErrors builds a Result for an operation that failed before any
// field executed: no data key, errors only.
func ResultFromErrors(category ErrorCategory, err error) *Result {
	return &Result{
		Errors: ErrorsFromError(category, err),
	}
}
