package http

import (
	"net/http"
	"strings"
)

// CorsPolicy decides which CORS headers accompany a response. It is a pure
// function of the construction-time flags and the request's Origin header.
//
// Without auth the policy is the permissive wildcard. With auth the
// wildcard is never emitted: credentialed responses echo the caller's
// Origin and mark the response as Origin-dependent for caches.
type CorsPolicy struct {
	allow    bool
	withAuth bool
}

func NewCorsPolicy(allow, withAuth bool) *CorsPolicy {
	return &CorsPolicy{
		allow:    allow,
		withAuth: withAuth,
	}
}

func (c *CorsPolicy) Apply(header http.Header, r *http.Request) {
	if !c.allow {
		return
	}
	if !c.withAuth {
		header.Set(accessControlAllowOrigin, "*")
		return
	}
	origin := r.Header.Get(httpHeaderOrigin)
	if origin == "" {
		return
	}
	header.Set(accessControlAllowOrigin, origin)
	header.Set(accessControlAllowCredentials, "true")
	header.Add(httpHeaderVary, httpHeaderOrigin)
}

// ApplyPreflight adds the method and header allowances on top of Apply.
func (c *CorsPolicy) ApplyPreflight(header http.Header, r *http.Request) {
	if !c.allow {
		return
	}
	c.Apply(header, r)
	header.Set(accessControlAllowMethods, "GET, POST")
	header.Set(accessControlAllowHeaders, c.allowedHeaders())
}

func (c *CorsPolicy) allowedHeaders() string {
	allowed := []string{httpHeaderContentType}
	if c.withAuth {
		allowed = append(allowed, httpHeaderAuthorization)
	}
	return strings.Join(allowed, ", ")
}
