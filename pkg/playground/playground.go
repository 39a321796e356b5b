// Package playground is a http.Handler hosting the GraphiQL explorer page.
package playground

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/pkg/errors"
)

const (
	graphiqlTemplate = "graphiqlTemplate"
)

const (
	contentTypeHeader   = "Content-Type"
	contentTypeTextHTML = "text/html"
)

// Config pre-fills the explorer's editor panes. Both values are embedded
// as string literals into the page at construction time.
type Config struct {
	DefaultQuery     string
	DefaultVariables string
}

// Page serves the rendered explorer. The page is a static shell: it is
// rendered once at construction and the operations it submits go through
// the regular GraphQL endpoint, auth included.
type Page struct {
	html []byte
}

func NewPage(config Config) (*Page, error) {
	templates, err := template.New(graphiqlTemplate).Parse(graphiqlHTML)
	if err != nil {
		return nil, errors.Wrap(err, "parse graphiql template")
	}

	buf := &bytes.Buffer{}
	if err := templates.ExecuteTemplate(buf, graphiqlTemplate, config); err != nil {
		return nil, errors.Wrap(err, "render graphiql template")
	}

	return &Page{html: buf.Bytes()}, nil
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Add(contentTypeHeader, contentTypeTextHTML)
	_, _ = w.Write(p.html)
}

const graphiqlHTML = `<!DOCTYPE html>
<html>
<head>
  <title>GraphiQL</title>
  <style>
    body { margin: 0; }
    #graphiql { height: 100vh; }
  </style>
  <link rel="stylesheet" href="https://unpkg.com/graphiql/graphiql.min.css" />
</head>
<body>
  <div id="graphiql">Loading...</div>
  <script src="https://unpkg.com/react@17/umd/react.production.min.js"></script>
  <script src="https://unpkg.com/react-dom@17/umd/react-dom.production.min.js"></script>
  <script src="https://unpkg.com/graphiql/graphiql.min.js"></script>
  <script>
    var defaultQuery = {{.DefaultQuery}};
    var defaultVariables = {{.DefaultVariables}};
    var fetcher = GraphiQL.createFetcher({
      url: window.location.href.split('?')[0],
    });
    ReactDOM.render(
      React.createElement(GraphiQL, {
        fetcher: fetcher,
        defaultQuery: defaultQuery || undefined,
        variables: defaultVariables || undefined,
      }),
      document.getElementById('graphiql')
    );
  </script>
</body>
</html>
`
