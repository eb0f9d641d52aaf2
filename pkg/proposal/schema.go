package proposal

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schemas for the commit tool payloads, matching the agent's declared
// tool parameters. Validated client-side before re-submission so the
// agent can replay the payload without re-deriving anything.

const candidateSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"priority": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
		"assignee": {"type": "string"},
		"due_date": {"type": "string"}
	},
	"required": ["title"],
	"additionalProperties": false
}`

var tasksPayloadSchema = `{
	"type": "object",
	"properties": {
		"tasks": {"type": "array", "minItems": 1, "items": ` + candidateSchema + `}
	},
	"required": ["tasks"],
	"additionalProperties": false
}`

var planPayloadSchema = `{
	"type": "object",
	"properties": {
		"goal": {"type": "string", "minLength": 1},
		"steps": {"type": "array", "minItems": 1, "items": ` + candidateSchema + `}
	},
	"required": ["goal", "steps"],
	"additionalProperties": false
}`

func validatePayload(body []byte, schema string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("approval payload is invalid: %s", strings.Join(problems, "; "))
}
