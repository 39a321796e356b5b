// Package execution turns parsed operation requests into results: it
// validates documents against the schema, builds per-operation contexts and
// drives the execution engine, fanning batches out concurrently while
// keeping results in request order.
package execution

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"golang.org/x/sync/errgroup"

	"github.com/parob/graphql-http/pkg/auth"
	"github.com/parob/graphql-http/pkg/graphql"
	"github.com/parob/graphql-http/pkg/pool"
)

const (
	messageMissingQuery         = "Must provide query string."
	messageMissingOperation     = "Must provide operation name if query contains multiple operations."
	messageSubscriptionOverHTTP = "Subscriptions are not supported over HTTP."
)

// Engine executes one validated operation. Implementations receive the
// parsed document plus the per-operation Context and must return a Result,
// never an error: failures become errors inside the Result.
//
// The engine owns field-level middleware; a custom Engine that ignores the
// configured chain simply resolves fields directly.
type Engine interface {
	Execute(ctx context.Context, document *ast.QueryDocument, operationName string, variables map[string]interface{}, executionContext *Context) *graphql.Result
}

const DefaultDocumentCacheSize = 1024

// OrchestratorConfig wires an Orchestrator. Schema and Engine are required.
type OrchestratorConfig struct {
	Schema *graphql.Schema
	Engine Engine
	// RootValue is handed to top-level resolvers.
	RootValue interface{}
	// ContextValues is the base value map copied into every operation.
	ContextValues map[string]interface{}
	// DocumentCacheSize bounds the parsed-document LRU, default 1024.
	DocumentCacheSize int
	Logger            log.Logger
}

// Orchestrator validates and executes operations. Safe for concurrent use;
// the document cache is the only internal shared state.
type Orchestrator struct {
	schema        *graphql.Schema
	engine        Engine
	rootValue     interface{}
	contextValues map[string]interface{}
	documentCache *lru.Cache
	log           log.Logger
}

func NewOrchestrator(config OrchestratorConfig) (*Orchestrator, error) {
	if config.Schema == nil {
		return nil, graphql.ErrNilSchema
	}
	if config.Engine == nil {
		return nil, errors.New("execution: engine is required")
	}
	cacheSize := config.DocumentCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultDocumentCacheSize
	}
	documentCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create document cache")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NoopLogger
	}
	return &Orchestrator{
		schema:        config.Schema,
		engine:        config.Engine,
		rootValue:     config.RootValue,
		contextValues: config.ContextValues,
		documentCache: documentCache,
		log:           logger,
	}, nil
}

// Execute runs a single operation end to end. Validation failures
// short-circuit before the engine sees the operation.
func (o *Orchestrator) Execute(ctx context.Context, request graphql.Request, authContext *auth.AuthContext) *graphql.Result {
	if !request.HasQuery() {
		return validationResult(messageMissingQuery)
	}

	document, err := o.loadDocument(request.Query)
	if err != nil {
		return graphql.ResultFromErrors(graphql.CategoryValidation, err)
	}

	operation, result := selectOperation(document, request.OperationName)
	if result != nil {
		return result
	}
	if operation.Operation == ast.Subscription {
		return validationResult(messageSubscriptionOverHTTP)
	}

	variables, err := request.DecodeVariables()
	if err != nil {
		return graphql.ResultFromErrors(graphql.CategoryValidation, err)
	}

	executionContext := NewContext(o.rootValue, o.contextValues, authContext)
	return o.engine.Execute(ctx, document, operation.Name, variables, executionContext)
}

// ExecuteBatch runs every request concurrently and returns results in
// request order. A failing member never affects its siblings.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, requests []graphql.Request, authContext *auth.AuthContext) []*graphql.Result {
	results := make([]*graphql.Result, len(requests))

	var group errgroup.Group
	for i := range requests {
		i := i
		group.Go(func() error {
			results[i] = o.Execute(ctx, requests[i], authContext)
			return nil
		})
	}
	_ = group.Wait()

	return results
}

type cachedDocument struct {
	document *ast.QueryDocument
	err      error
}

// loadDocument parses and validates the query, caching the outcome keyed by
// the query hash. Validation outcome is cacheable because the schema is
// immutable for the orchestrator's lifetime.
func (o *Orchestrator) loadDocument(query string) (*ast.QueryDocument, error) {
	hash := pool.Hash64.Get()
	defer pool.Hash64.Put(hash)
	_, _ = hash.WriteString(query)
	cacheKey := hash.Sum64()

	if cached, ok := o.documentCache.Get(cacheKey); ok {
		if entry, ok := cached.(*cachedDocument); ok {
			return entry.document, entry.err
		}
	}

	entry := &cachedDocument{}
	entry.document, entry.err = graphql.ParseQuery(query)
	if entry.err == nil {
		entry.err = o.schema.ValidateQuery(entry.document)
		if entry.err == nil {
			o.log.Debug("Orchestrator.loadDocument: document validated",
				log.Int("operations", len(entry.document.Operations)),
			)
		}
	}
	if entry.err != nil {
		entry.document = nil
	}

	o.documentCache.Add(cacheKey, entry)
	return entry.document, entry.err
}

func selectOperation(document *ast.QueryDocument, operationName string) (*ast.OperationDefinition, *graphql.Result) {
	if operationName == "" {
		if len(document.Operations) > 1 {
			return nil, validationResult(messageMissingOperation)
		}
		if len(document.Operations) == 0 {
			return nil, validationResult(messageMissingQuery)
		}
		return document.Operations[0], nil
	}
	operation := document.Operations.ForName(operationName)
	if operation == nil {
		return nil, validationResult("Unknown operation named \"" + operationName + "\".")
	}
	return operation, nil
}

func validationResult(message string) *graphql.Result {
	return &graphql.Result{
		Errors: graphql.Errors{
			{
				Message:  message,
				Category: graphql.CategoryValidation,
			},
		},
	}
}
