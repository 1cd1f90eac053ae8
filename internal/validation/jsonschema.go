package validation

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowsketch/pkg/schema"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const schemaBaseURL = "https://flowsketch.dev/schemas/"

// Request body kinds, one per embedded schema file.
const (
	KindGenerate   = "generate"
	KindSource     = "source"
	KindRender     = "render"
	KindShare      = "share"
	KindStats      = "stats"
	KindNewsletter = "newsletter"
	KindQR         = "qr"
)

// RequestValidator checks JSON request bodies against the embedded
// Draft 2020-12 schemas. It is safe for concurrent use; schemas are compiled
// once at construction.
type RequestValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewRequestValidator compiles every schema under schemas/.
func NewRequestValidator() (*RequestValidator, error) {
	entries, err := fs.ReadDir(schemaFiles, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()

	kinds := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		raw, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		kinds = append(kinds, strings.TrimSuffix(name, ".json"))
	}

	v := &RequestValidator{schemas: make(map[string]*jsonschema.Schema, len(kinds))}
	for _, kind := range kinds {
		compiled, err := c.Compile(schemaBaseURL + kind + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", kind, err)
		}
		v.schemas[kind] = compiled
	}
	return v, nil
}

// Validate checks body against the schema for kind. Malformed JSON and
// schema violations both yield a VALIDATION_ERROR.
func (v *RequestValidator) Validate(kind string, body []byte) error {
	sch, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("no schema for request kind %q", kind)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err)
	}
	if err := sch.Validate(doc); err != nil {
		return toFlowsketchError(err)
	}
	return nil
}

// Kinds lists the request kinds with a compiled schema.
func (v *RequestValidator) Kinds() []string {
	out := make([]string, 0, len(v.schemas))
	for k := range v.schemas {
		out = append(out, k)
	}
	return out
}

// toFlowsketchError converts a jsonschema.ValidationError into a
// FlowsketchError listing every leaf violation with its location.
func toFlowsketchError(err error) *schema.FlowsketchError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
