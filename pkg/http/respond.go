package http

import (
	"bytes"
	"encoding/json"
	"net/http"

	log "github.com/jensneuse/abstractlogger"
	"github.com/pkg/errors"

	"github.com/parob/graphql-http/pkg/auth"
	"github.com/parob/graphql-http/pkg/graphql"
	"github.com/parob/graphql-http/pkg/pool"
)

// ResponseAssembler renders operation results and pipeline failures as
// HTTP responses, mapping error categories to status codes.
type ResponseAssembler struct {
	log log.Logger
}

func NewResponseAssembler(logger log.Logger) *ResponseAssembler {
	return &ResponseAssembler{log: logger}
}

func (a *ResponseAssembler) WriteResult(w http.ResponseWriter, result *graphql.Result) {
	a.writeResult(w, resultStatus(result), result)
}

// WriteBatch writes the results array in request order. The status is the
// highest per-element status so a client can still detect a batch whose
// member never executed.
func (a *ResponseAssembler) WriteBatch(w http.ResponseWriter, results []*graphql.Result) {
	status := http.StatusOK
	for _, result := range results {
		if elementStatus := resultStatus(result); elementStatus > status {
			status = elementStatus
		}
	}

	buf := pool.BytesBuffer.Get()
	defer pool.BytesBuffer.Put(buf)

	if err := json.NewEncoder(buf).Encode(results); err != nil {
		a.log.Error("ResponseAssembler.WriteBatch: response encoding failed",
			log.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	a.flush(w, status, buf)
}

// WriteRequestError renders a failure that aborted the pipeline before any
// operation ran: a malformed envelope, a rejected token, or an unreachable
// key set endpoint.
func (a *ResponseAssembler) WriteRequestError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	category := graphql.CategoryTransport

	var verificationError *auth.VerificationError
	switch {
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &verificationError):
		status = http.StatusUnauthorized
		category = graphql.CategoryAuthentication
	}

	a.writeResult(w, status, graphql.ResultFromErrors(category, err))
}

// resultStatus maps one operation outcome to a status code. Execution
// errors keep 200; an outcome made up entirely of validation,
// authentication or authorization errors carries its category's status.
func resultStatus(result *graphql.Result) int {
	if len(result.Errors) == 0 {
		return http.StatusOK
	}
	switch {
	case result.Errors.HasOnlyCategory(graphql.CategoryAuthentication):
		return http.StatusUnauthorized
	case result.Errors.HasOnlyCategory(graphql.CategoryAuthorization):
		return http.StatusForbidden
	case result.Errors.HasOnlyCategory(graphql.CategoryValidation):
		return http.StatusBadRequest
	case result.Errors.HasOnlyCategory(graphql.CategoryTransport):
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

func (a *ResponseAssembler) writeResult(w http.ResponseWriter, status int, result *graphql.Result) {
	buf := pool.BytesBuffer.Get()
	defer pool.BytesBuffer.Put(buf)

	if _, err := result.WriteResponse(buf); err != nil {
		a.log.Error("ResponseAssembler.writeResult: response encoding failed",
			log.Error(err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	a.flush(w, status, buf)
}

func (a *ResponseAssembler) flush(w http.ResponseWriter, status int, buf *bytes.Buffer) {
	w.Header().Set(httpHeaderContentType, httpContentTypeApplicationJson)
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
