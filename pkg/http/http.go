// Package http serves GraphQL over HTTP: request parsing, bearer token
// verification, batched execution and response assembly behind a single
// http.Handler.
package http

import (
	"context"
	"net/http"
	"strings"

	log "github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"

	"github.com/parob/graphql-http/pkg/auth"
	"github.com/parob/graphql-http/pkg/execution"
	"github.com/parob/graphql-http/pkg/middleware"
	"github.com/parob/graphql-http/pkg/playground"
)

const (
	httpHeaderContentType   = "Content-Type"
	httpHeaderAuthorization = "Authorization"
	httpHeaderAccept        = "Accept"
	httpHeaderOrigin        = "Origin"
	httpHeaderVary          = "Vary"

	httpContentTypeApplicationJson    = "application/json"
	httpContentTypeApplicationGraphql = "application/graphql"
	httpContentTypeTextHTML           = "text/html"
	httpContentTypeTextPlain          = "text/plain; charset=utf-8"

	accessControlAllowOrigin      = "Access-Control-Allow-Origin"
	accessControlAllowCredentials = "Access-Control-Allow-Credentials"
	accessControlAllowMethods     = "Access-Control-Allow-Methods"
	accessControlAllowHeaders     = "Access-Control-Allow-Headers"
)

// GraphQLHTTPRequestHandler is the single entry point. Per request it
// short-circuits health checks, preflights and the explorer page, then
// parses, authenticates, executes and writes the response. All state
// besides the shared key set cache is per-request.
type GraphQLHTTPRequestHandler struct {
	log                   log.Logger
	orchestrator          *execution.Orchestrator
	verifier              *auth.Verifier
	parser                *RequestParser
	assembler             *ResponseAssembler
	cors                  *CorsPolicy
	graphiql              http.Handler
	healthPath            string
	authenticatePreflight bool
}

func NewGraphQLHTTPHandler(options ...Option) (*GraphQLHTTPRequestHandler, error) {
	opts := defaultHandlerOptions()
	for _, option := range options {
		option(&opts)
	}

	if opts.schema == nil {
		return nil, errors.New("handler requires a schema")
	}

	engine := opts.engine
	if engine == nil {
		engineOptions := []execution.ResolverEngineOption{
			execution.WithEngineLogger(opts.logger),
			execution.WithVerboseErrors(opts.verboseErrors),
		}
		if len(opts.interceptors) > 0 {
			engineOptions = append(engineOptions, execution.WithMiddleware(middleware.NewChain(opts.interceptors...)))
		}
		if opts.typeResolver != nil {
			engineOptions = append(engineOptions, execution.WithTypeResolver(opts.typeResolver))
		}
		engine = execution.NewResolverEngine(opts.schema, opts.resolvers, engineOptions...)
	}

	orchestrator, err := execution.NewOrchestrator(execution.OrchestratorConfig{
		Schema:            opts.schema,
		Engine:            engine,
		RootValue:         opts.rootValue,
		ContextValues:     opts.contextValues,
		DocumentCacheSize: opts.documentCacheSize,
		Logger:            opts.logger,
	})
	if err != nil {
		return nil, err
	}

	var verifier *auth.Verifier
	if opts.authConfig != nil {
		verifier, err = auth.NewVerifier(*opts.authConfig)
		if err != nil {
			return nil, err
		}
	}

	var graphiql http.Handler
	if opts.serveGraphiQL {
		page, err := playground.NewPage(playground.Config{
			DefaultQuery:     opts.graphiqlDefaultQuery,
			DefaultVariables: opts.graphiqlDefaultVariables,
		})
		if err != nil {
			return nil, err
		}
		graphiql = page
	}

	return &GraphQLHTTPRequestHandler{
		log:                   opts.logger,
		orchestrator:          orchestrator,
		verifier:              verifier,
		parser:                NewRequestParser(opts.maxBodySize),
		assembler:             NewResponseAssembler(opts.logger),
		cors:                  NewCorsPolicy(opts.allowCORS, opts.authConfig != nil),
		graphiql:              graphiql,
		healthPath:            opts.healthPath,
		authenticatePreflight: opts.authenticatePreflight,
	}, nil
}

func (g *GraphQLHTTPRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.healthPath != "" && r.URL.Path == g.healthPath && r.Method == http.MethodGet {
		g.cors.Apply(w.Header(), r)
		w.Header().Set(httpHeaderContentType, httpContentTypeTextPlain)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	if r.Method == http.MethodOptions {
		g.handlePreflight(w, r)
		return
	}

	// The explorer page is a static shell served before auth; every
	// operation it submits still authenticates.
	if g.shouldServeGraphiQL(r) {
		g.cors.Apply(w.Header(), r)
		g.graphiql.ServeHTTP(w, r)
		return
	}

	g.handleGraphQL(w, r)
}

func (g *GraphQLHTTPRequestHandler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	g.cors.ApplyPreflight(w.Header(), r)

	if g.authenticatePreflight && g.verifier != nil {
		if _, err := g.authenticate(r); err != nil {
			g.assembler.WriteRequestError(w, err)
			return
		}
	}

	w.Header().Set(httpHeaderContentType, httpContentTypeTextPlain)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (g *GraphQLHTTPRequestHandler) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	g.cors.Apply(w.Header(), r)

	requests, batch, err := g.parser.Parse(w, r)
	if err != nil {
		g.log.Debug("GraphQLHTTPRequestHandler.handleGraphQL: request rejected",
			log.Error(err),
			log.String("method", r.Method),
		)
		g.assembler.WriteRequestError(w, err)
		return
	}

	var authContext *auth.AuthContext
	if g.verifier != nil {
		authContext, err = g.authenticate(r)
		if err != nil {
			if errors.Is(err, auth.ErrUpstreamUnavailable) {
				g.log.Error("GraphQLHTTPRequestHandler.handleGraphQL: key set unavailable",
					log.Error(err),
				)
			} else {
				g.log.Debug("GraphQLHTTPRequestHandler.handleGraphQL: token rejected",
					log.Error(err),
				)
			}
			g.assembler.WriteRequestError(w, err)
			return
		}
	}

	ctx := context.WithValue(r.Context(), requestContextKey, r)
	if batch {
		results := g.orchestrator.ExecuteBatch(ctx, requests, authContext)
		g.assembler.WriteBatch(w, results)
		return
	}
	result := g.orchestrator.Execute(ctx, requests[0], authContext)
	g.assembler.WriteResult(w, result)
}

type contextKey int

const requestContextKey contextKey = 0

// RequestFromContext returns the HTTP request an operation arrived on, for
// resolvers and interceptors that need transport metadata.
func RequestFromContext(ctx context.Context) (*http.Request, bool) {
	request, ok := ctx.Value(requestContextKey).(*http.Request)
	return request, ok
}

func (g *GraphQLHTTPRequestHandler) authenticate(r *http.Request) (*auth.AuthContext, error) {
	token, _ := auth.BearerFromHeader(r.Header.Get(httpHeaderAuthorization))
	return g.verifier.Verify(r.Context(), token)
}

func (g *GraphQLHTTPRequestHandler) shouldServeGraphiQL(r *http.Request) bool {
	if g.graphiql == nil || r.Method != http.MethodGet {
		return false
	}
	if _, raw := r.URL.Query()["raw"]; raw {
		return false
	}
	return strings.Contains(r.Header.Get(httpHeaderAccept), httpContentTypeTextHTML)
}
