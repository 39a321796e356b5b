package execution

import (
	"github.com/parob/graphql-http/pkg/auth"
)

// AuthContextKey is the well-known key the verified identity is exposed
// under inside Context.Values, so resolvers and interceptors can read it
// without importing the transport layer.
const AuthContextKey = "auth"

// Context is the per-operation execution context. Each operation of a batch
// gets its own instance; only the Auth pointer is shared, and it is
// immutable after verification.
type Context struct {
	// Root is the configured root value handed to top-level resolvers.
	Root interface{}
	// Values carries the configured base context values plus the auth
	// context. The map belongs to a single operation.
	Values map[string]interface{}
	// Auth is nil when authentication is disabled.
	Auth *auth.AuthContext
}

// NewContext builds a fresh Context. baseValues is copied, never aliased,
// so one operation mutating its Values cannot leak into a sibling.
func NewContext(root interface{}, baseValues map[string]interface{}, authContext *auth.AuthContext) *Context {
	values := make(map[string]interface{}, len(baseValues)+1)
	for k, v := range baseValues {
		values[k] = v
	}
	if authContext != nil {
		values[AuthContextKey] = authContext
	}
	return &Context{
		Root:   root,
		Values: values,
		Auth:   authContext,
	}
}
