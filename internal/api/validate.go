package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tjfontaine/theory-council/internal/core/domain"
)

const (
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20

	schemaBaseURL = "https://theory-council.local/"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	runRequestSchema          = mustCompileSchema("schemas/run_request.json")
	conversationRequestSchema = mustCompileSchema("schemas/conversation_request.json")
)

func mustCompileSchema(name string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}

	url := schemaBaseURL + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// decodeRequest reads the body, validates it against schema and decodes it
// into dst. Every failure is an invalid request error.
func decodeRequest(r *http.Request, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrInvalidRequest(fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
		}
		return domain.ErrInvalidRequest("failed to read request body").WithCause(err)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.ErrInvalidRequest("invalid JSON body: " + err.Error())
	}

	if err := schema.Validate(payload); err != nil {
		msg := err.Error()
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			msg = validationMessage(verr)
		}
		return domain.ErrInvalidRequest(msg).WithCode(domain.ErrorCodeSchemaViolation)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.ErrInvalidRequest("invalid request body: " + err.Error())
	}
	return nil
}

// validationMessage reports the most specific cause of a schema failure.
func validationMessage(verr *jsonschema.ValidationError) string {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("request body %s: %s", loc, leaf.Message)
}
