// Package spec embeds the OpenAPI document served at /openapi.yaml and
// rendered by the Swagger UI under /docs.
package spec

import (
	"bytes"
	_ "embed"
	"net/http"
	"time"
)

//go:embed openapi.yaml
var document []byte

// servedSince is the Last-Modified time; the document only changes with a
// new binary.
var servedSince = time.Now().UTC()

// Document returns a copy of the embedded OpenAPI document.
func Document() []byte {
	return bytes.Clone(document)
}

// OpenAPIHandler serves the embedded document with conditional GET support.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Cache-Control", "public, max-age=300")
		http.ServeContent(w, r, "openapi.yaml", servedSince, bytes.NewReader(document))
	}
}
