package http

import (
	log "github.com/jensneuse/abstractlogger"

	"github.com/parob/graphql-http/pkg/auth"
	"github.com/parob/graphql-http/pkg/execution"
	"github.com/parob/graphql-http/pkg/graphql"
	"github.com/parob/graphql-http/pkg/middleware"
)

// DefaultMaxBodySize caps request bodies when WithMaxBodySize is not set.
const DefaultMaxBodySize int64 = 1 << 20

type handlerOptions struct {
	schema                   *graphql.Schema
	engine                   execution.Engine
	resolvers                execution.Resolvers
	typeResolver             execution.TypeResolver
	rootValue                interface{}
	contextValues            map[string]interface{}
	interceptors             []middleware.Interceptor
	authConfig               *auth.Config
	allowCORS                bool
	authenticatePreflight    bool
	healthPath               string
	serveGraphiQL            bool
	graphiqlDefaultQuery     string
	graphiqlDefaultVariables string
	maxBodySize              int64
	documentCacheSize        int
	verboseErrors            bool
	logger                   log.Logger
}

func defaultHandlerOptions() handlerOptions {
	return handlerOptions{
		serveGraphiQL: true,
		maxBodySize:   DefaultMaxBodySize,
		logger:        log.NoopLogger,
	}
}

// Option configures the handler. All options are read once at
// construction; the handler is immutable afterwards.
type Option func(*handlerOptions)

func WithSchema(schema *graphql.Schema) Option {
	return func(opts *handlerOptions) {
		opts.schema = schema
	}
}

// WithEngine swaps the built-in resolver-map engine for a custom one. The
// schema is still required for parsing and validation.
func WithEngine(engine execution.Engine) Option {
	return func(opts *handlerOptions) {
		opts.engine = engine
	}
}

func WithResolvers(resolvers execution.Resolvers) Option {
	return func(opts *handlerOptions) {
		opts.resolvers = resolvers
	}
}

func WithTypeResolver(typeResolver execution.TypeResolver) Option {
	return func(opts *handlerOptions) {
		opts.typeResolver = typeResolver
	}
}

func WithRootValue(rootValue interface{}) Option {
	return func(opts *handlerOptions) {
		opts.rootValue = rootValue
	}
}

// WithContextValues seeds every operation's context values. The map is
// copied per operation; resolvers never observe each other's writes.
func WithContextValues(values map[string]interface{}) Option {
	return func(opts *handlerOptions) {
		opts.contextValues = values
	}
}

// WithMiddleware appends field interceptors. The first configured
// interceptor is the outermost wrapper around field resolution.
func WithMiddleware(interceptors ...middleware.Interceptor) Option {
	return func(opts *handlerOptions) {
		opts.interceptors = append(opts.interceptors, interceptors...)
	}
}

// WithAuth enables bearer token verification against the configured JWKS
// endpoint. Every non-preflight request must then carry a valid token.
func WithAuth(config auth.Config) Option {
	return func(opts *handlerOptions) {
		opts.authConfig = &config
	}
}

// WithAuthDomain enables auth with the conventional endpoints of a hosted
// tenant domain: JWKS at https://{domain}/.well-known/jwks.json and issuer
// https://{domain}/.
func WithAuthDomain(domain, audience string) Option {
	return func(opts *handlerOptions) {
		config := auth.DomainConfig(domain, audience)
		opts.authConfig = &config
	}
}

func WithCORS(allow bool) Option {
	return func(opts *handlerOptions) {
		opts.allowCORS = allow
	}
}

// AuthenticatePreflight also verifies tokens on OPTIONS requests. Off by
// default: browsers send preflights without credentials, so requiring a
// token there breaks CORS for every authenticated client.
func AuthenticatePreflight(authenticate bool) Option {
	return func(opts *handlerOptions) {
		opts.authenticatePreflight = authenticate
	}
}

// WithHealthPath serves a plain 200 "OK" on GET requests to path,
// bypassing parsing and auth. Empty path disables the endpoint.
func WithHealthPath(path string) Option {
	return func(opts *handlerOptions) {
		opts.healthPath = path
	}
}

// WithGraphiQL toggles the explorer page on GET requests that accept
// text/html. Enabled by default.
func WithGraphiQL(serve bool) Option {
	return func(opts *handlerOptions) {
		opts.serveGraphiQL = serve
	}
}

func WithGraphiQLDefaults(query, variables string) Option {
	return func(opts *handlerOptions) {
		opts.graphiqlDefaultQuery = query
		opts.graphiqlDefaultVariables = variables
	}
}

func WithMaxBodySize(limit int64) Option {
	return func(opts *handlerOptions) {
		opts.maxBodySize = limit
	}
}

func WithDocumentCacheSize(size int) Option {
	return func(opts *handlerOptions) {
		opts.documentCacheSize = size
	}
}

// WithVerboseErrors exposes raw resolver error messages to clients instead
// of the generic masked message. Development only.
func WithVerboseErrors(verbose bool) Option {
	return func(opts *handlerOptions) {
		opts.verboseErrors = verbose
	}
}

func WithLogger(logger log.Logger) Option {
	return func(opts *handlerOptions) {
		opts.logger = logger
	}
}
