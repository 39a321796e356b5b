package execution

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/parob/graphql-http/pkg/middleware"
)

const (
	listKind    = "LIST"
	nonNullKind = "NON_NULL"
)

// introspectionType adapts schema definitions to the __Type shape. LIST and
// NON_NULL wrappers carry no definition, only an ofType chain.
type introspectionType struct {
	kind       string
	definition *ast.Definition
	ofType     *introspectionType
}

// introspectionValue resolves the reflection surface: the __schema and
// __type meta fields on the query root, plus every field whose parent value
// is one of the schema AST nodes those meta fields hand out. The second
// return reports whether the field was introspection-owned at all.
func (e *ResolverEngine) introspectionValue(field *middleware.FieldContext) (interface{}, bool) {
	schema := e.schema.Document()

	if schema.Query != nil && field.ObjectType == schema.Query.Name {
		switch field.FieldName {
		case "__schema":
			return schema, true
		case "__type":
			name, _ := field.Args["name"].(string)
			return e.introspectionTypeFromDef(schema.Types[name]), true
		}
	}

	switch source := field.Source.(type) {
	case *ast.Schema:
		return e.schemaField(source, field.FieldName), true
	case *introspectionType:
		return e.typeField(source, field), true
	case *ast.FieldDefinition:
		return e.fieldDefinitionField(source, field.FieldName), true
	case *ast.ArgumentDefinition:
		return e.argumentField(source, field.FieldName), true
	case *ast.EnumValueDefinition:
		return e.enumValueField(source, field.FieldName), true
	case *ast.DirectiveDefinition:
		return e.directiveField(source, field.FieldName), true
	}

	return nil, false
}

func (e *ResolverEngine) schemaField(schema *ast.Schema, fieldName string) interface{} {
	switch fieldName {
	case "description":
		if schema.Description == "" {
			return nil
		}
		return schema.Description
	case "types":
		names := make([]string, 0, len(schema.Types))
		for name := range schema.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		types := make([]*introspectionType, 0, len(names))
		for _, name := range names {
			types = append(types, e.introspectionTypeFromDef(schema.Types[name]))
		}
		return types
	case "queryType":
		return e.introspectionTypeFromDef(schema.Query)
	case "mutationType":
		return e.introspectionTypeFromDef(schema.Mutation)
	case "subscriptionType":
		return e.introspectionTypeFromDef(schema.Subscription)
	case "directives":
		names := make([]string, 0, len(schema.Directives))
		for name := range schema.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		directives := make([]*ast.DirectiveDefinition, 0, len(names))
		for _, name := range names {
			directives = append(directives, schema.Directives[name])
		}
		return directives
	}
	return nil
}

func (e *ResolverEngine) typeField(t *introspectionType, field *middleware.FieldContext) interface{} {
	switch field.FieldName {
	case "kind":
		return t.kind
	case "ofType":
		return t.ofType
	}
	if t.definition == nil {
		return nil
	}

	definition := t.definition
	switch field.FieldName {
	case "name":
		return definition.Name
	case "description":
		return descriptionOrNil(definition.Description)
	case "specifiedByURL":
		if directive := definition.Directives.ForName("specifiedBy"); directive != nil {
			if argument := directive.Arguments.ForName("url"); argument != nil {
				return argument.Value.Raw
			}
		}
		return nil
	case "fields":
		if definition.Kind != ast.Object && definition.Kind != ast.Interface {
			return nil
		}
		includeDeprecated, _ := field.Args["includeDeprecated"].(bool)
		fields := make([]*ast.FieldDefinition, 0, len(definition.Fields))
		for _, fieldDef := range definition.Fields {
			if strings.HasPrefix(fieldDef.Name, "__") {
				continue
			}
			if !includeDeprecated && fieldDef.Directives.ForName("deprecated") != nil {
				continue
			}
			fields = append(fields, fieldDef)
		}
		return fields
	case "interfaces":
		if definition.Kind != ast.Object && definition.Kind != ast.Interface {
			return nil
		}
		interfaces := make([]*introspectionType, 0, len(definition.Interfaces))
		for _, name := range definition.Interfaces {
			if implemented := e.schema.Document().Types[name]; implemented != nil {
				interfaces = append(interfaces, e.introspectionTypeFromDef(implemented))
			}
		}
		return interfaces
	case "possibleTypes":
		if definition.Kind != ast.Interface && definition.Kind != ast.Union {
			return nil
		}
		possible := e.schema.Document().PossibleTypes[definition.Name]
		types := make([]*introspectionType, 0, len(possible))
		for _, possibleDef := range possible {
			types = append(types, e.introspectionTypeFromDef(possibleDef))
		}
		return types
	case "enumValues":
		if definition.Kind != ast.Enum {
			return nil
		}
		includeDeprecated, _ := field.Args["includeDeprecated"].(bool)
		values := make([]*ast.EnumValueDefinition, 0, len(definition.EnumValues))
		for _, valueDef := range definition.EnumValues {
			if !includeDeprecated && valueDef.Directives.ForName("deprecated") != nil {
				continue
			}
			values = append(values, valueDef)
		}
		return values
	case "inputFields":
		if definition.Kind != ast.InputObject {
			return nil
		}
		return []*ast.FieldDefinition(definition.Fields)
	}
	return nil
}

func (e *ResolverEngine) fieldDefinitionField(definition *ast.FieldDefinition, fieldName string) interface{} {
	switch fieldName {
	case "name":
		return definition.Name
	case "description":
		return descriptionOrNil(definition.Description)
	case "args":
		return []*ast.ArgumentDefinition(definition.Arguments)
	case "type":
		return e.introspectionTypeFromRef(definition.Type)
	case "defaultValue":
		// Input object fields reuse this shape as __InputValue.
		if definition.DefaultValue == nil {
			return nil
		}
		return definition.DefaultValue.String()
	case "isDeprecated":
		deprecated, _ := deprecationOf(definition.Directives)
		return deprecated
	case "deprecationReason":
		_, reason := deprecationOf(definition.Directives)
		return reason
	}
	return nil
}

func (e *ResolverEngine) argumentField(definition *ast.ArgumentDefinition, fieldName string) interface{} {
	switch fieldName {
	case "name":
		return definition.Name
	case "description":
		return descriptionOrNil(definition.Description)
	case "type":
		return e.introspectionTypeFromRef(definition.Type)
	case "defaultValue":
		if definition.DefaultValue == nil {
			return nil
		}
		return definition.DefaultValue.String()
	}
	return nil
}

func (e *ResolverEngine) enumValueField(definition *ast.EnumValueDefinition, fieldName string) interface{} {
	switch fieldName {
	case "name":
		return definition.Name
	case "description":
		return descriptionOrNil(definition.Description)
	case "isDeprecated":
		deprecated, _ := deprecationOf(definition.Directives)
		return deprecated
	case "deprecationReason":
		_, reason := deprecationOf(definition.Directives)
		return reason
	}
	return nil
}

func (e *ResolverEngine) directiveField(definition *ast.DirectiveDefinition, fieldName string) interface{} {
	switch fieldName {
	case "name":
		return definition.Name
	case "description":
		return descriptionOrNil(definition.Description)
	case "locations":
		return definition.Locations
	case "args":
		return []*ast.ArgumentDefinition(definition.Arguments)
	case "isRepeatable":
		return definition.IsRepeatable
	}
	return nil
}

func (e *ResolverEngine) introspectionTypeFromRef(t *ast.Type) *introspectionType {
	if t == nil {
		return nil
	}
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return &introspectionType{kind: nonNullKind, ofType: e.introspectionTypeFromRef(&inner)}
	}
	if t.Elem != nil {
		return &introspectionType{kind: listKind, ofType: e.introspectionTypeFromRef(t.Elem)}
	}
	return e.introspectionTypeFromDef(e.schema.Document().Types[t.NamedType])
}

func (e *ResolverEngine) introspectionTypeFromDef(definition *ast.Definition) *introspectionType {
	if definition == nil {
		return nil
	}
	return &introspectionType{kind: string(definition.Kind), definition: definition}
}

func deprecationOf(directives ast.DirectiveList) (bool, interface{}) {
	directive := directives.ForName("deprecated")
	if directive == nil {
		return false, nil
	}
	if argument := directive.Arguments.ForName("reason"); argument != nil {
		return true, argument.Value.Raw
	}
	return true, "No longer supported"
}

func descriptionOrNil(description string) interface{} {
	if description == "" {
		return nil
	}
	return description
}
