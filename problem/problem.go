// Package problem renders RFC 7807 problem-details responses. The
// idempotency adapters use it for their 400 conversions; applications can
// reuse it for their own error bodies.
package problem

import (
	"encoding/json"
	"net/http"
)

// ContentType is the media type for problem-details responses.
const ContentType = "application/problem+json"

// Details is an RFC 7807 problem document.
type Details struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Code is an application-level error code, carried as an RFC 7807
	// extension member.
	Code string `json:"code,omitempty"`
}

// New creates a problem document with the standard title for status.
func New(status int, detail string) *Details {
	return &Details{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// WithCode sets the application error code.
func (d *Details) WithCode(code string) *Details {
	d.Code = code
	return d
}

// WithInstance sets the instance URI, typically the request path.
func (d *Details) WithInstance(instance string) *Details {
	d.Instance = instance
	return d
}

// Render writes the document to w with the problem+json content type.
func (d *Details) Render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)
	json.NewEncoder(w).Encode(d)
}

// BadRequest renders a 400 problem document to w.
func BadRequest(w http.ResponseWriter, code, detail string) {
	New(http.StatusBadRequest, detail).WithCode(code).Render(w)
}

// Internal renders a 500 problem document to w.
func Internal(w http.ResponseWriter, detail string) {
	New(http.StatusInternalServerError, detail).Render(w)
}
