package events

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchemaURL = "https://flowrunner.local/schemas/event-envelope.v1.json"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_id", "event_type", "version", "timestamp", "source", "trace_id", "payload"],
  "properties": {
    "event_id":   {"type": "string", "format": "uuid"},
    "event_type": {"type": "string", "minLength": 1},
    "version":    {"type": "integer"},
    "timestamp":  {"type": "string", "format": "date-time"},
    "source":     {"type": "string"},
    "trace_id":   {"type": "string", "maxLength": 64},
    "payload":    {"type": "object"}
  }
}`

var compiledEnvelopeSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchema)); err != nil {
		panic(fmt.Errorf("envelope schema load failed: %w", err))
	}
	s, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		panic(fmt.Errorf("envelope schema compile failed: %w", err))
	}
	return s
}
