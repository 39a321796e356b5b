package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/parob/graphql-http/pkg/graphql"
	"github.com/parob/graphql-http/pkg/pool"
)

// MalformedRequestError is a transport-level failure: the request envelope
// could not be understood, so no operation was attempted.
type MalformedRequestError struct {
	message string
}

func malformedRequest(format string, args ...interface{}) *MalformedRequestError {
	return &MalformedRequestError{message: fmt.Sprintf(format, args...)}
}

func (e *MalformedRequestError) Error() string {
	return e.message
}

// RequestParser turns an HTTP request into one or more operation requests.
// It only judges the envelope; whether a query is present and meaningful is
// the orchestrator's validation concern.
type RequestParser struct {
	maxBodySize int64
}

func NewRequestParser(maxBodySize int64) *RequestParser {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &RequestParser{maxBodySize: maxBodySize}
}

// Parse returns the parsed operations and whether the envelope was a batch
// array. Single operations come back as a one-element slice.
func (p *RequestParser) Parse(w http.ResponseWriter, r *http.Request) ([]graphql.Request, bool, error) {
	switch r.Method {
	case http.MethodGet:
		return requestFromValues(r.URL.Query())
	case http.MethodPost:
		return p.parsePost(w, r)
	default:
		return nil, false, malformedRequest("Method %q is not supported, use GET or POST.", r.Method)
	}
}

func (p *RequestParser) parsePost(w http.ResponseWriter, r *http.Request) ([]graphql.Request, bool, error) {
	switch mediaType(r.Header.Get(httpHeaderContentType)) {
	case httpContentTypeApplicationGraphql:
		body, err := p.readBody(w, r)
		if err != nil {
			return nil, false, err
		}
		return []graphql.Request{{Query: string(body)}}, false, nil

	case httpContentTypeApplicationJson:
		body, err := p.readBody(w, r)
		if err != nil {
			return nil, false, err
		}
		return p.parseJSON(body)

	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, p.maxBodySize)
		if err := r.ParseForm(); err != nil {
			return nil, false, malformedRequest("Unable to parse form body.")
		}
		return requestFromValues(r.PostForm)

	case "multipart/form-data":
		if err := r.ParseMultipartForm(p.maxBodySize); err != nil {
			return nil, false, malformedRequest("Unable to parse form body.")
		}
		return requestFromValues(r.PostForm)

	default:
		body, err := p.readBody(w, r)
		if err != nil {
			return nil, false, err
		}
		if len(body) == 0 {
			return []graphql.Request{{}}, false, nil
		}
		if requests, batch, err := p.parseJSON(body); err == nil {
			return requests, batch, nil
		}
		// Not JSON, so the body is the query text itself.
		return []graphql.Request{{Query: string(body)}}, false, nil
	}
}

// readBody drains the capped request body through a pooled buffer. The
// returned slice is an owned copy, safe to keep after the buffer returns
// to the pool.
func (p *RequestParser) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	buf := pool.BytesBuffer.Get()
	defer pool.BytesBuffer.Put(buf)

	limited := http.MaxBytesReader(w, r.Body, p.maxBodySize)
	if _, err := buf.ReadFrom(limited); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			return nil, malformedRequest("Request body exceeds the %d byte limit.", p.maxBodySize)
		}
		return nil, malformedRequest("Unable to read request body.")
	}

	body := bytes.TrimSpace(buf.Bytes())
	owned := make([]byte, len(body))
	copy(owned, body)
	return owned, nil
}

func (p *RequestParser) parseJSON(body []byte) ([]graphql.Request, bool, error) {
	if len(body) == 0 {
		return nil, false, malformedRequest("Unable to parse JSON body.")
	}
	if body[0] == '[' {
		return p.parseBatch(body)
	}
	var request graphql.Request
	if err := json.Unmarshal(body, &request); err != nil {
		return nil, false, malformedRequest("Unable to parse JSON body.")
	}
	return []graphql.Request{request}, false, nil
}

// parseBatch scans the array envelope element by element. Any non-object
// element fails the whole request: a broken envelope must never partially
// execute. An empty array is a valid zero-length batch.
func (p *RequestParser) parseBatch(body []byte) ([]graphql.Request, bool, error) {
	requests := make([]graphql.Request, 0, 4)
	var envelopeErr error

	_, err := jsonparser.ArrayEach(body, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if envelopeErr != nil {
			return
		}
		if dataType != jsonparser.Object {
			envelopeErr = malformedRequest("Batch element %d must be a JSON object.", len(requests))
			return
		}
		var request graphql.Request
		if err := json.Unmarshal(value, &request); err != nil {
			envelopeErr = malformedRequest("Unable to parse JSON body.")
			return
		}
		requests = append(requests, request)
	})
	if err != nil {
		return nil, false, malformedRequest("Unable to parse JSON body.")
	}
	if envelopeErr != nil {
		return nil, false, envelopeErr
	}
	return requests, true, nil
}

func requestFromValues(values url.Values) ([]graphql.Request, bool, error) {
	request := graphql.Request{
		Query:         values.Get("query"),
		OperationName: values.Get("operationName"),
	}
	if variables := values.Get("variables"); variables != "" {
		if !gjson.Valid(variables) {
			return nil, false, malformedRequest("Variables are invalid JSON.")
		}
		request.Variables = json.RawMessage(variables)
	}
	return []graphql.Request{request}, false, nil
}

func mediaType(contentType string) string {
	contentType, _, _ = strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(contentType))
}
