package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the JSON schema config files are checked against before
// unmarshalling. It constrains shapes and ranges, not semantics; the
// Validator covers cross-field rules.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "backend": {
      "type": "object",
      "properties": {
        "host": {"type": "string", "minLength": 1},
        "probe_timeout_ms": {"type": "integer", "minimum": 1},
        "probe_cache_ttl_ms": {"type": "integer", "minimum": 0},
        "request_timeout_sec": {"type": "integer", "minimum": 1}
      }
    },
    "agents": {
      "type": "array",
      "maxItems": 2,
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "enum": ["front", "back"]},
          "model": {"type": "string", "minLength": 1},
          "identity": {"type": "string"}
        },
        "required": ["id", "model"]
      }
    },
    "retry": {
      "type": "object",
      "properties": {
        "max_attempts": {"type": "integer", "minimum": 1, "maximum": 10},
        "base_delay_ms": {"type": "integer", "minimum": 0}
      }
    },
    "queue": {
      "type": "object",
      "properties": {
        "capacity": {"type": "integer", "minimum": 1},
        "workers": {"type": "integer", "minimum": 1, "maximum": 8}
      }
    },
    "batch": {
      "type": "object",
      "properties": {
        "interval_ms": {"type": "integer", "minimum": 1}
      }
    },
    "keepalive": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "interval_sec": {"type": "integer", "minimum": 1},
        "heartbeat_sec": {"type": "integer", "minimum": 1},
        "warmup_timeout_sec": {"type": "integer", "minimum": 1}
      }
    },
    "history": {
      "type": "object",
      "properties": {
        "agent_limit": {"type": "integer", "minimum": 1},
        "shared_limit": {"type": "integer", "minimum": 1},
        "excerpt_len": {"type": "integer", "minimum": 10}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535}
      }
    },
    "data_dir": {"type": "string"}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// ValidateSchema validates raw config JSON against the schema.
func ValidateSchema(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	return nil
}
