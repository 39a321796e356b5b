package graphql

import (
	"io"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

var (
	ErrNilSchema = errors.New("the provided schema is nil")
)

// Schema is a parsed SDL document operations are validated against.
// Read-only after construction, safe for concurrent use.
type Schema struct {
	document *ast.Schema
	rawInput string
}

func NewSchemaFromString(schema string) (*Schema, error) {
	document, err := gqlparser.LoadSchema(&ast.Source{
		Name:  "schema.graphql",
		Input: schema,
	})
	if err != nil {
		return nil, errors.Wrap(err, "load schema")
	}

	return &Schema{
		document: document,
		rawInput: schema,
	}, nil
}

func NewSchemaFromReader(reader io.Reader) (*Schema, error) {
	schemaBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "read schema")
	}
	return NewSchemaFromString(string(schemaBytes))
}

func (s *Schema) Document() *ast.Schema {
	return s.document
}

func (s *Schema) RawInput() string {
	return s.rawInput
}

// ParseQuery parses an executable document without validating it.
func ParseQuery(query string) (*ast.QueryDocument, error) {
	document, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, err
	}
	return document, nil
}

// ValidateQuery runs the standard validation rules for the document
// against the schema.
func (s *Schema) ValidateQuery(document *ast.QueryDocument) error {
	if errs := validator.Validate(s.document, document); len(errs) > 0 {
		return errs
	}
	return nil
}
