// Package payload validates and decodes /payload request bodies.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/wudi/analyzer/internal/analysis"
)

const schemaURL = "payload.json"

var (
	ErrEmptyBody     = errors.New("request body is empty")
	ErrMalformedJSON = errors.New("request body is not valid JSON")
	ErrNotObject     = errors.New("request body must be a JSON object")
)

// Limits bounds what the validator accepts.
type Limits struct {
	MaxNumbers   int
	MaxTextLen   int // in characters
	MaxBodyBytes int64
}

// Validator checks request bodies against a JSON schema derived from Limits.
type Validator struct {
	limits Limits
	schema *jsonschema.Schema
}

// New compiles the payload schema for limits.
func New(limits Limits) (*Validator, error) {
	if limits.MaxNumbers <= 0 || limits.MaxTextLen <= 0 || limits.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("payload limits must be positive: %+v", limits)
	}

	schema, err := compileSchema(limits)
	if err != nil {
		return nil, err
	}
	return &Validator{
		limits: limits,
		schema: schema,
	}, nil
}

// Schema returns the JSON schema document enforced for limits.
func Schema(limits Limits) map[string]any {
	return map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": []string{"numbers", "text"},
		"properties": map[string]any{
			"numbers": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "number"},
				"minItems": 1,
				"maxItems": limits.MaxNumbers,
			},
			"text": map[string]any{
				"type":      "string",
				"minLength": 1,
				"maxLength": limits.MaxTextLen,
			},
		},
	}
}

func compileSchema(limits Limits) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(Schema(limits))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload schema: %w", err)
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// Limits returns the limits the validator enforces.
func (v *Validator) Limits() Limits {
	return v.limits
}

// Decode reads, validates and decodes the request body. Every error it
// returns describes a client mistake.
func (v *Validator) Decode(w http.ResponseWriter, r *http.Request) (analysis.Input, error) {
	if r.Body == nil {
		return analysis.Input{}, ErrEmptyBody
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, v.limits.MaxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return analysis.Input{}, fmt.Errorf("request body exceeds %d bytes", mbe.Limit)
		}
		return analysis.Input{}, fmt.Errorf("failed to read request body: %w", err)
	}

	return v.Validate(body)
}

// Validate checks a raw body and decodes it.
func (v *Validator) Validate(body []byte) (analysis.Input, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return analysis.Input{}, ErrEmptyBody
	}
	if !gjson.ValidBytes(body) {
		return analysis.Input{}, ErrMalformedJSON
	}
	if !gjson.ParseBytes(body).IsObject() {
		return analysis.Input{}, ErrNotObject
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		// e.g. a number that does not fit in a float64
		return analysis.Input{}, fmt.Errorf("invalid JSON body: %s", err.Error())
	}
	if err := v.schema.Validate(doc); err != nil {
		return analysis.Input{}, fmt.Errorf("validation failed: %s", describe(err))
	}

	var in analysis.Input
	if err := json.Unmarshal(body, &in); err != nil {
		return analysis.Input{}, fmt.Errorf("invalid JSON body: %s", err.Error())
	}
	return in, nil
}

// describe flattens a multi-line schema error into its leaf messages.
func describe(err error) string {
	var msgs []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			msgs = append(msgs, strings.TrimPrefix(line, "- "))
		}
	}
	if len(msgs) == 0 {
		return err.Error()
	}
	return strings.Join(msgs, "; ")
}
