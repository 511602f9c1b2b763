package problem

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.passve.vn/"

// Type returns the absolute problem type URI for slug, such as
// "wallet/insufficient-funds".
func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends an RFC 7807 problem document.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteExtended(w, r, status, problemType, title, detail, nil)
}

// WriteExtended is Write with extension members merged into the body, such
// as the top-up amount of an insufficient-funds problem.
func WriteExtended(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, extensions map[string]any) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	// The trace middleware has already settled the id on the response.
	requestID := w.Header().Get("X-Trace-ID")
	instance := ""
	if r != nil {
		instance = r.URL.Path
		if requestID == "" {
			requestID = r.Header.Get("X-Trace-ID")
		}
	}

	body := map[string]any{}
	for k, v := range extensions {
		body[k] = v
	}
	body["type"] = problemType
	body["title"] = title
	body["status"] = status
	body["detail"] = detail
	body["instance"] = instance
	body["request_id"] = requestID

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
