package idempotency

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// CompileBodySchema parses a JSON Schema document for use with
// WithBodySchema.
func CompileBodySchema(schemaJSON []byte) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile body schema: %w", err)
	}
	return schema, nil
}

// CheckBody validates the request body against the configured schema,
// restoring r.Body so the handler can still read it. With no schema
// configured the body is never touched.
//
// Returns a *MalformedBodyError when the body is not valid JSON or fails
// the schema. Bodies larger than the configured buffering cap skip
// validation and pass through unconsumed.
func (c *Coordinator) CheckBody(r *http.Request) error {
	if c.cfg.bodySchema == nil || r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	limit := c.cfg.maxBodySize
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return &MalformedBodyError{Err: err}
	}

	if int64(len(buf)) > limit {
		// Too large to buffer: hand back what was read plus the rest of
		// the stream and let the handler decide.
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
		return nil
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))

	result, err := c.cfg.bodySchema.Validate(gojsonschema.NewBytesLoader(buf))
	if err != nil {
		return &MalformedBodyError{Err: err}
	}
	if result.Valid() {
		return nil
	}

	var details []string
	for _, desc := range result.Errors() {
		details = append(details, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return &MalformedBodyError{Err: fmt.Errorf("schema validation failed: %s", strings.Join(details, "; "))}
}
