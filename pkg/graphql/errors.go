package graphql

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrorCategory classifies an error for machine consumption. It is rendered
// inside extensions.category so the response body keeps the standard
// GraphQL error shape.
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "Validation"
	CategoryAuthentication ErrorCategory = "Authentication"
	CategoryAuthorization  ErrorCategory = "Authorization"
	CategoryExecution      ErrorCategory = "Execution"
	CategoryTransport      ErrorCategory = "Transport"
)

type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Error struct {
	Message    string                 `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
	Category   ErrorCategory          `json:"-"`
}

func (e Error) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s, path: %v", e.Message, e.Path)
}

func (e Error) MarshalJSON() ([]byte, error) {
	extensions := e.Extensions
	if e.Category != "" {
		extensions = make(map[string]interface{}, len(e.Extensions)+1)
		for k, v := range e.Extensions {
			extensions[k] = v
		}
		extensions["category"] = string(e.Category)
	}
	return json.Marshal(struct {
		Message    string                 `json:"message"`
		Locations  []Location             `json:"locations,omitempty"`
		Path       []interface{}          `json:"path,omitempty"`
		Extensions map[string]interface{} `json:"extensions,omitempty"`
	}{
		Message:    e.Message,
		Locations:  e.Locations,
		Path:       e.Path,
		Extensions: extensions,
	})
}

type Errors []Error

func (o Errors) Error() string {
	if len(o) > 0 { // avoid panic ...
		return o[0].Error()
	}
	return "no error" // ... so, this should never be returned
}

func (o Errors) WriteResponse(writer io.Writer) (n int, err error) {
	response := Result{
		Errors: o,
	}

	responseBytes, err := response.Marshal()
	if err != nil {
		return 0, err
	}

	return writer.Write(responseBytes)
}

func (o Errors) Count() int {
	return len(o)
}

func (o Errors) ErrorByIndex(i int) error {
	if i >= o.Count() {
		return nil
	}

	return o[i]
}

// HasOnlyCategory reports whether every error in the slice carries the given
// category. Used by the response assembler to pick the HTTP status.
func (o Errors) HasOnlyCategory(category ErrorCategory) bool {
	if len(o) == 0 {
		return false
	}
	for i := range o {
		if o[i].Category != category {
			return false
		}
	}
	return true
}

// ErrorsFromError lifts any error into the wire representation. Typed error
// slices pass through unchanged, gqlparser errors keep their locations and
// paths, everything else becomes a single message.
func ErrorsFromError(category ErrorCategory, err error) Errors {
	switch typed := err.(type) {
	case Errors:
		return typed
	case Error:
		return Errors{typed}
	case gqlerror.List:
		return errorsFromGQLErrors(category, typed)
	case *gqlerror.Error:
		return errorsFromGQLErrors(category, gqlerror.List{typed})
	default:
		return Errors{
			{
				Message:  err.Error(),
				Category: category,
			},
		}
	}
}

func errorsFromGQLErrors(category ErrorCategory, list gqlerror.List) Errors {
	out := make(Errors, 0, len(list))
	for _, gqlErr := range list {
		formatted := Error{
			Message:  gqlErr.Message,
			Path:     pathToSlice(gqlErr.Path),
			Category: category,
		}
		for _, loc := range gqlErr.Locations {
			formatted.Locations = append(formatted.Locations, Location{
				Line:   loc.Line,
				Column: loc.Column,
			})
		}
		out = append(out, formatted)
	}
	return out
}

func pathToSlice(path ast.Path) []interface{} {
	if len(path) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(path))
	for _, element := range path {
		switch p := element.(type) {
		case ast.PathName:
			out = append(out, string(p))
		case ast.PathIndex:
			out = append(out, int(p))
		}
	}
	return out
}

// ResolverError is raised deliberately by a resolver or interceptor. Its
// message and extensions are passed through to the client verbatim, unlike
// unexpected errors which are masked outside verbose mode.
type ResolverError struct {
	Message    string
	Extensions map[string]interface{}
	Category   ErrorCategory
}

func (e *ResolverError) Error() string {
	return e.Message
}

// NewResolverError returns an Execution category error safe to expose.
func NewResolverError(message string) *ResolverError {
	return &ResolverError{
		Message:  message,
		Category: CategoryExecution,
	}
}

// NewAuthorizationError marks a resolver failure as a forbidden-access
// outcome, mapped to 403 when it is the only kind of error in a result.
func NewAuthorizationError(message string) *ResolverError {
	return &ResolverError{
		Message:  message,
		Category: CategoryAuthorization,
	}
}
