package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	log "github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/parob/graphql-http/pkg/graphql"
	"github.com/parob/graphql-http/pkg/middleware"
)

const maskedErrorMessage = "Internal server error"

// Resolvers maps "Type.field" to the function resolving it. Fields without
// an entry fall back to reading the same-named key or struct field off the
// parent value.
type Resolvers map[string]middleware.Resolver

// TypeResolver names the concrete object type for a value of an abstract
// (interface or union) type. Map values carrying a __typename key resolve
// without one.
type TypeResolver func(value interface{}) string

// ResolverEngine executes operations against a schema using a resolver map.
// Every field resolution, including introspection, flows through the
// configured middleware chain. Fields resolve serially in document order;
// concurrency lives at the batch level.
type ResolverEngine struct {
	schema        *graphql.Schema
	resolvers     Resolvers
	typeResolver  TypeResolver
	chain         *middleware.Chain
	resolve       middleware.Resolver
	log           log.Logger
	verboseErrors bool
}

type ResolverEngineOption func(*ResolverEngine)

// WithMiddleware wires the field interceptor chain. The chain is composed
// here once; request handling never recomposes it.
func WithMiddleware(chain *middleware.Chain) ResolverEngineOption {
	return func(e *ResolverEngine) {
		e.chain = chain
	}
}

func WithEngineLogger(logger log.Logger) ResolverEngineOption {
	return func(e *ResolverEngine) {
		e.log = logger
	}
}

// WithVerboseErrors exposes raw resolver error messages to clients. Meant
// for development; defaults to off, which masks everything except errors
// raised deliberately via graphql.ResolverError.
func WithVerboseErrors(verbose bool) ResolverEngineOption {
	return func(e *ResolverEngine) {
		e.verboseErrors = verbose
	}
}

func WithTypeResolver(typeResolver TypeResolver) ResolverEngineOption {
	return func(e *ResolverEngine) {
		e.typeResolver = typeResolver
	}
}

func NewResolverEngine(schema *graphql.Schema, resolvers Resolvers, options ...ResolverEngineOption) *ResolverEngine {
	engine := &ResolverEngine{
		schema:    schema,
		resolvers: resolvers,
		log:       log.NoopLogger,
	}
	for _, option := range options {
		option(engine)
	}
	if engine.chain != nil {
		engine.resolve = engine.chain.Apply(engine.defaultResolve)
	} else {
		engine.resolve = engine.defaultResolve
	}
	return engine
}

func (e *ResolverEngine) Execute(ctx context.Context, document *ast.QueryDocument, operationName string, variables map[string]interface{}, executionContext *Context) *graphql.Result {
	operation := operationForName(document, operationName)
	if operation == nil {
		return validationResult(fmt.Sprintf("Unknown operation %q.", operationName))
	}

	rootType := e.rootType(operation.Operation)
	if rootType == nil {
		return validationResult(fmt.Sprintf("Schema is not configured for %ss.", operation.Operation))
	}

	s := &state{
		engine:           e,
		document:         document,
		variables:        effectiveVariables(operation, variables),
		executionContext: executionContext,
	}

	data, ok := s.executeSelectionSet(ctx, rootType, operation.SelectionSet, executionContext.Root, nil)
	result := &graphql.Result{Errors: s.errors}
	if !ok || data == nil {
		result.Data = graphql.Null
		return result
	}

	payload, err := json.Marshal(data)
	if err != nil {
		e.log.Error("ResolverEngine.Execute: response serialization failed",
			log.Error(err),
		)
		result.Data = graphql.Null
		result.Errors = append(result.Errors, graphql.Error{
			Message:  maskedErrorMessage,
			Category: graphql.CategoryExecution,
		})
		return result
	}
	result.Data = payload
	return result
}

func (e *ResolverEngine) rootType(operation ast.Operation) *ast.Definition {
	switch operation {
	case ast.Query:
		return e.schema.Document().Query
	case ast.Mutation:
		return e.schema.Document().Mutation
	case ast.Subscription:
		return e.schema.Document().Subscription
	default:
		return nil
	}
}

// defaultResolve is the innermost resolver the middleware chain wraps:
// introspection first, then the resolver map, then plain field access on
// the parent value.
func (e *ResolverEngine) defaultResolve(ctx context.Context, field *middleware.FieldContext) (interface{}, error) {
	if value, handled := e.introspectionValue(field); handled {
		return value, nil
	}
	if resolver, ok := e.resolvers[field.ObjectType+"."+field.FieldName]; ok {
		return resolver(ctx, field)
	}
	return defaultFieldValue(field.Source, field.FieldName), nil
}

func operationForName(document *ast.QueryDocument, operationName string) *ast.OperationDefinition {
	if operationName == "" {
		if len(document.Operations) == 1 {
			return document.Operations[0]
		}
		return nil
	}
	return document.Operations.ForName(operationName)
}

// effectiveVariables applies operation variable defaults for variables the
// request left unset.
func effectiveVariables(operation *ast.OperationDefinition, variables map[string]interface{}) map[string]interface{} {
	if len(operation.VariableDefinitions) == 0 {
		return variables
	}
	effective := make(map[string]interface{}, len(variables)+len(operation.VariableDefinitions))
	for k, v := range variables {
		effective[k] = v
	}
	for _, definition := range operation.VariableDefinitions {
		if _, ok := effective[definition.Variable]; ok {
			continue
		}
		if definition.DefaultValue == nil {
			continue
		}
		if value, err := definition.DefaultValue.Value(nil); err == nil {
			effective[definition.Variable] = value
		}
	}
	return effective
}

// state holds everything for one operation execution. Execution is serial,
// so no locking is needed.
type state struct {
	engine           *ResolverEngine
	document         *ast.QueryDocument
	variables        map[string]interface{}
	executionContext *Context
	errors           graphql.Errors
}

type fieldGroup struct {
	responseName string
	fields       []*ast.Field
}

// executeSelectionSet resolves every collected field of the selection set
// against source. The second return is false when a non-null violation must
// keep bubbling to the parent.
func (s *state) executeSelectionSet(ctx context.Context, objectType *ast.Definition, selectionSet ast.SelectionSet, source interface{}, path []interface{}) (*orderedMap, bool) {
	groups := s.collectFields(objectType, selectionSet, map[string]bool{})
	result := newOrderedMap(len(groups))

	for _, group := range groups {
		fieldPath := appendPath(path, group.responseName)
		field := group.fields[0]

		if field.Name == "__typename" {
			result.set(group.responseName, objectType.Name)
			continue
		}

		fieldDef := objectType.Fields.ForName(field.Name)
		if fieldDef == nil {
			// Validation catches this before execution; kept for engines
			// running unvalidated documents.
			s.errors = append(s.errors, graphql.Error{
				Message:  fmt.Sprintf("Cannot query field %q on type %q.", field.Name, objectType.Name),
				Path:     fieldPath,
				Category: graphql.CategoryExecution,
			})
			continue
		}

		value := s.resolveFieldGroup(ctx, objectType, fieldDef, group, source, fieldPath)
		label := objectType.Name + "." + fieldDef.Name

		completed, ok := s.completeValue(ctx, fieldDef.Type, mergeSelections(group.fields), value, fieldPath, label)
		if !ok {
			return nil, false
		}
		result.set(group.responseName, completed)
	}

	return result, true
}

func (s *state) resolveFieldGroup(ctx context.Context, objectType *ast.Definition, fieldDef *ast.FieldDefinition, group *fieldGroup, source interface{}, path []interface{}) interface{} {
	args, err := s.argumentValues(fieldDef, group.fields[0])
	if err != nil {
		s.errors = append(s.errors, graphql.Error{
			Message:  err.Error(),
			Path:     path,
			Category: graphql.CategoryExecution,
		})
		return nil
	}

	field := &middleware.FieldContext{
		ObjectType: objectType.Name,
		FieldName:  fieldDef.Name,
		Path:       path,
		Args:       args,
		Source:     source,
		Values:     s.executionContext.Values,
	}

	value, err := s.safeResolve(ctx, field)
	if err != nil {
		s.addFieldError(err, path)
		return nil
	}
	return value
}

// safeResolve runs the composed resolver chain and converts panics into
// field errors so a broken resolver cannot take down sibling fields.
func (s *state) safeResolve(ctx context.Context, field *middleware.FieldContext) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.engine.log.Error("ResolverEngine.safeResolve: resolver panicked",
				log.String("objectType", field.ObjectType),
				log.String("field", field.FieldName),
				log.String("panic", fmt.Sprintf("%v", r)),
				log.String("stack", string(debug.Stack())),
			)
			err = errors.Errorf("resolver panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.engine.resolve(ctx, field)
}

func (s *state) addFieldError(err error, path []interface{}) {
	var resolverError *graphql.ResolverError
	if errors.As(err, &resolverError) {
		category := resolverError.Category
		if category == "" {
			category = graphql.CategoryExecution
		}
		s.errors = append(s.errors, graphql.Error{
			Message:    resolverError.Message,
			Path:       path,
			Extensions: resolverError.Extensions,
			Category:   category,
		})
		return
	}

	s.engine.log.Error("ResolverEngine.execute: field resolution failed",
		log.Error(err),
		log.String("path", pathString(path)),
	)
	message := maskedErrorMessage
	if s.engine.verboseErrors {
		message = err.Error()
	}
	s.errors = append(s.errors, graphql.Error{
		Message:  message,
		Path:     path,
		Category: graphql.CategoryExecution,
	})
}

// completeValue walks the field type, serializing leaves and recursing into
// objects and lists. The second return is false when a non-null violation
// occurred at or below this value and the null must keep propagating.
func (s *state) completeValue(ctx context.Context, fieldType *ast.Type, selections ast.SelectionSet, value interface{}, path []interface{}, label string) (interface{}, bool) {
	if isNullish(value) {
		if fieldType.NonNull {
			if !s.hasErrorAtPath(path) {
				s.errors = append(s.errors, graphql.Error{
					Message:  fmt.Sprintf("Cannot return null for non-nullable field %s.", label),
					Path:     path,
					Category: graphql.CategoryExecution,
				})
			}
			return nil, false
		}
		return nil, true
	}

	if fieldType.NamedType == "" {
		return s.completeListValue(ctx, fieldType, selections, value, path, label)
	}

	definition := s.engine.schema.Document().Types[fieldType.NamedType]
	if definition == nil {
		s.errors = append(s.errors, graphql.Error{
			Message:  fmt.Sprintf("Unknown type %q.", fieldType.NamedType),
			Path:     path,
			Category: graphql.CategoryExecution,
		})
		return nil, !fieldType.NonNull
	}

	switch definition.Kind {
	case ast.Scalar, ast.Enum:
		return serializeLeaf(value), true
	case ast.Object:
		completed, ok := s.executeSelectionSet(ctx, definition, selections, value, path)
		if !ok {
			return absorbNull(fieldType)
		}
		return completed, true
	case ast.Interface, ast.Union:
		concrete := s.concreteType(definition, value, path)
		if concrete == nil {
			return absorbNull(fieldType)
		}
		completed, ok := s.executeSelectionSet(ctx, concrete, selections, value, path)
		if !ok {
			return absorbNull(fieldType)
		}
		return completed, true
	default:
		s.errors = append(s.errors, graphql.Error{
			Message:  fmt.Sprintf("Cannot complete value of type %q.", definition.Name),
			Path:     path,
			Category: graphql.CategoryExecution,
		})
		return nil, !fieldType.NonNull
	}
}

// absorbNull decides whether a bubbled null stops here (nullable field) or
// keeps climbing (non-null field).
func absorbNull(fieldType *ast.Type) (interface{}, bool) {
	if fieldType.NonNull {
		return nil, false
	}
	return nil, true
}

func (s *state) completeListValue(ctx context.Context, listType *ast.Type, selections ast.SelectionSet, value interface{}, path []interface{}, label string) (interface{}, bool) {
	items, ok := toSlice(value)
	if !ok {
		s.errors = append(s.errors, graphql.Error{
			Message:  fmt.Sprintf("Expected a list for field %s, got %T.", label, value),
			Path:     path,
			Category: graphql.CategoryExecution,
		})
		return nil, !listType.NonNull
	}

	completed := make([]interface{}, len(items))
	for i, item := range items {
		itemPath := appendPath(path, i)
		itemValue, ok := s.completeValue(ctx, listType.Elem, selections, item, itemPath, label)
		if !ok {
			// A non-null element nulls the whole list; a non-null list
			// keeps bubbling.
			return nil, !listType.NonNull
		}
		completed[i] = itemValue
	}
	return completed, true
}

func (s *state) concreteType(abstract *ast.Definition, value interface{}, path []interface{}) *ast.Definition {
	name := ""
	if m, ok := value.(map[string]interface{}); ok {
		if typename, ok := m["__typename"].(string); ok {
			name = typename
		}
	}
	if name == "" && s.engine.typeResolver != nil {
		name = s.engine.typeResolver(value)
	}
	if name == "" {
		s.errors = append(s.errors, graphql.Error{
			Message:  fmt.Sprintf("Abstract type %q must resolve to an object type at runtime.", abstract.Name),
			Path:     path,
			Category: graphql.CategoryExecution,
		})
		return nil
	}
	for _, possible := range s.engine.schema.Document().PossibleTypes[abstract.Name] {
		if possible.Name == name {
			return possible
		}
	}
	s.errors = append(s.errors, graphql.Error{
		Message:  fmt.Sprintf("Type %q is not a possible type of %q.", name, abstract.Name),
		Path:     path,
		Category: graphql.CategoryExecution,
	})
	return nil
}

func (s *state) hasErrorAtPath(path []interface{}) bool {
	for i := range s.errors {
		if reflect.DeepEqual(s.errors[i].Path, path) {
			return true
		}
	}
	return false
}

// collectFields groups the selection set's fields by response name in
// document order, expanding fragments and honoring @skip and @include.
func (s *state) collectFields(objectType *ast.Definition, selectionSet ast.SelectionSet, visitedFragments map[string]bool) []*fieldGroup {
	groups := make([]*fieldGroup, 0, len(selectionSet))
	index := make(map[string]int, len(selectionSet))
	s.collectFieldsInto(objectType, selectionSet, visitedFragments, &groups, index)
	return groups
}

func (s *state) collectFieldsInto(objectType *ast.Definition, selectionSet ast.SelectionSet, visitedFragments map[string]bool, groups *[]*fieldGroup, index map[string]int) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *ast.Field:
			if !s.includeNode(sel.Directives) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			if at, ok := index[responseName]; ok {
				(*groups)[at].fields = append((*groups)[at].fields, sel)
				continue
			}
			index[responseName] = len(*groups)
			*groups = append(*groups, &fieldGroup{
				responseName: responseName,
				fields:       []*ast.Field{sel},
			})

		case *ast.InlineFragment:
			if !s.includeNode(sel.Directives) {
				continue
			}
			if !s.fragmentApplies(sel.TypeCondition, objectType) {
				continue
			}
			s.collectFieldsInto(objectType, sel.SelectionSet, visitedFragments, groups, index)

		case *ast.FragmentSpread:
			if !s.includeNode(sel.Directives) {
				continue
			}
			if visitedFragments[sel.Name] {
				continue
			}
			visitedFragments[sel.Name] = true
			fragment := s.document.Fragments.ForName(sel.Name)
			if fragment == nil {
				continue
			}
			if !s.fragmentApplies(fragment.TypeCondition, objectType) {
				continue
			}
			s.collectFieldsInto(objectType, fragment.SelectionSet, visitedFragments, groups, index)
		}
	}
}

func (s *state) fragmentApplies(typeCondition string, objectType *ast.Definition) bool {
	if typeCondition == "" || typeCondition == objectType.Name {
		return true
	}
	for _, possible := range s.engine.schema.Document().PossibleTypes[typeCondition] {
		if possible.Name == objectType.Name {
			return true
		}
	}
	return false
}

func (s *state) includeNode(directives ast.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if condition, ok := s.directiveCondition(skip); ok && condition {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if condition, ok := s.directiveCondition(include); ok && !condition {
			return false
		}
	}
	return true
}

func (s *state) directiveCondition(directive *ast.Directive) (bool, bool) {
	argument := directive.Arguments.ForName("if")
	if argument == nil {
		return false, false
	}
	value, err := argument.Value.Value(s.variables)
	if err != nil {
		return false, false
	}
	condition, ok := value.(bool)
	return condition, ok
}

// argumentValues coerces the field's arguments, substituting variables and
// falling back to schema defaults.
func (s *state) argumentValues(fieldDef *ast.FieldDefinition, field *ast.Field) (map[string]interface{}, error) {
	if len(fieldDef.Arguments) == 0 {
		return nil, nil
	}
	args := make(map[string]interface{}, len(fieldDef.Arguments))
	for _, definition := range fieldDef.Arguments {
		if argument := field.Arguments.ForName(definition.Name); argument != nil {
			value, err := argument.Value.Value(s.variables)
			if err != nil {
				return nil, errors.Wrapf(err, "argument %q", definition.Name)
			}
			args[definition.Name] = value
			continue
		}
		if definition.DefaultValue != nil {
			value, err := definition.DefaultValue.Value(nil)
			if err != nil {
				return nil, errors.Wrapf(err, "argument %q", definition.Name)
			}
			args[definition.Name] = value
		}
	}
	return args, nil
}

func mergeSelections(fields []*ast.Field) ast.SelectionSet {
	if len(fields) == 1 {
		return fields[0].SelectionSet
	}
	var merged ast.SelectionSet
	for _, field := range fields {
		merged = append(merged, field.SelectionSet...)
	}
	return merged
}

func serializeLeaf(value interface{}) interface{} {
	switch v := value.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		return value
	}
}

// defaultFieldValue reads fieldName off the parent: map key first, then an
// exported struct field with a matching name.
func defaultFieldValue(source interface{}, fieldName string) interface{} {
	if source == nil {
		return nil
	}
	if m, ok := source.(map[string]interface{}); ok {
		return m[fieldName]
	}

	value := reflect.ValueOf(source)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Map:
		if value.Type().Key().Kind() != reflect.String {
			return nil
		}
		entry := value.MapIndex(reflect.ValueOf(fieldName))
		if !entry.IsValid() {
			return nil
		}
		return entry.Interface()
	case reflect.Struct:
		structType := value.Type()
		for i := 0; i < structType.NumField(); i++ {
			structField := structType.Field(i)
			if !structField.IsExported() {
				continue
			}
			if structField.Name == fieldName || strings.EqualFold(structField.Name, fieldName) {
				return value.Field(i).Interface()
			}
		}
	}
	return nil
}

func toSlice(value interface{}) ([]interface{}, bool) {
	if direct, ok := value.([]interface{}); ok {
		return direct, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// isNullish treats nil interfaces and typed nils the same way.
func isNullish(value interface{}) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

func appendPath(path []interface{}, element interface{}) []interface{} {
	next := make([]interface{}, len(path)+1)
	copy(next, path)
	next[len(path)] = element
	return next
}

func pathString(path []interface{}) string {
	var b strings.Builder
	for i, element := range path {
		switch v := element.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		}
	}
	return b.String()
}
