// Package openapi declares the idempotency key header as an OpenAPI 3
// parameter, for services that assemble their API documents from
// fragments. The fragment can be validated against the parameter schema
// before it is merged into a document.
package openapi

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/replaykit/idempotency"
)

// ParameterDescription documents the header's contract for API readers.
const ParameterDescription = "Idempotency key for safe retries of this operation. " +
	"Requests carrying the same key are executed at most once per server " +
	"process while the key is live; duplicates receive the first response."

// DeclareParameter creates the OpenAPI parameter object for the
// idempotency key header, for inclusion in an operation's parameters.
// headerName may be empty to document the default header.
//
// Example:
//
//	param := openapi.DeclareParameter("")
//	// Include in the operation's "parameters" array
func DeclareParameter(headerName string) map[string]interface{} {
	if headerName == "" {
		headerName = idempotency.DefaultHeader
	}
	return map[string]interface{}{
		"name":        headerName,
		"in":          "header",
		"required":    false,
		"description": ParameterDescription,
		"schema": map[string]interface{}{
			"type":      "string",
			"minLength": idempotency.KeyMinLength,
			"maxLength": idempotency.KeyMaxLength,
		},
	}
}

// parameterSchema returns the JSON Schema a declared parameter must satisfy:
// the subset of the OpenAPI 3 parameter object this package emits.
func parameterSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"minLength":   1,
				"description": "The header name clients send the key in.",
			},
			"in": map[string]interface{}{
				"const":       "header",
				"description": "Idempotency keys are always header parameters.",
			},
			"required": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether the operation demands a key on every call.",
			},
			"description": map[string]interface{}{
				"type": "string",
			},
			"schema": map[string]interface{}{
				"type":        "object",
				"description": "The value schema; idempotency keys are strings.",
				"properties": map[string]interface{}{
					"type": map[string]interface{}{
						"const": "string",
					},
				},
				"required": []string{"type"},
			},
		},
		"required": []string{"name", "in", "schema"},
	}
}

// ValidationResult represents the result of validating a parameter fragment
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateParameter validates a parameter fragment against the parameter
// schema. Use it in tests or at startup when fragments are assembled from
// configuration.
func ValidateParameter(param map[string]interface{}) ValidationResult {
	schemaJSON, err := json.Marshal(parameterSchema())
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Failed to marshal schema: %v", err)},
		}
	}
	paramJSON, err := json.Marshal(param)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Failed to marshal parameter: %v", err)},
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(paramJSON),
	)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{
		Valid:  false,
		Errors: errors,
	}
}
