package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

func registerDocs(r chi.Router, basePath string) {
	page := docsPage(basePath)
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	})
}

// registerOpenAPI serves the document under the base path. It is built on
// first request, once every operation has been registered.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
		err  error
	)
	r.Get(path.Join("/", basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			documentErrors(oas)
			documentSecurity(oas, basePath)
			doc, err = json.Marshal(oas)
		})
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func eachOperation(oas *huma.OpenAPI, fn func(route string, op *huma.Operation)) {
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op != nil {
				fn(route, op)
			}
		}
	}
}

// documentErrors points every operation's default response at the error
// envelope schema.
func documentErrors(oas *huma.OpenAPI) {
	if oas == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	ref := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	eachOperation(oas, func(_ string, op *huma.Operation) {
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}
		if _, ok := op.Responses["default"]; ok {
			return
		}
		op.Responses["default"] = &huma.Response{
			Description: "Error envelope",
			Content:     map[string]*huma.MediaType{"application/json": {Schema: ref}},
		}
	})
}

// documentSecurity mirrors the auth middleware: bearer tokens everywhere
// except the public routes, and a query token on reply links.
func documentSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["accessToken"] = &huma.SecurityScheme{
		Type:        "apiKey",
		In:          "query",
		Name:        "access_token",
		Description: "Session token for reply links opened in a browser.",
	}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = bearer
	public := publicRoutes(basePath)
	replyLinks := replyLinkPrefix(basePath)
	eachOperation(oas, func(route string, op *huma.Operation) {
		switch {
		case public[route]:
			op.Security = []map[string][]string{}
		case strings.HasPrefix(route, replyLinks):
			op.Security = append(bearer, map[string][]string{"accessToken": {}})
		default:
			op.Security = bearer
		}
	})
}

func docsPage(basePath string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<title>Casework API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
<script>
window.onload = () => SwaggerUIBundle({url: %q, dom_id: "#swagger-ui", persistAuthorization: true});
</script>
<noscript>Mint a token with POST %s or cw auth token, then send it as Authorization: Bearer.</noscript>
</body>
</html>`, path.Join("/", basePath, "openapi.json"), path.Join("/", basePath, "auth/dev/login"))
}
