package compiler

// responseSchema is the strict JSON schema the compile LLM call must
// satisfy (spec §4.3): unknown top-level fields reject, and exactly one
// of "unit" or "clarification" is required depending on "kind".
const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["kind"],
  "properties": {
    "kind": {"type": "string", "enum": ["unit", "clarification"]},
    "unit": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "trigger", "conditions", "actions"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "trigger": {
          "type": "object",
          "additionalProperties": false,
          "required": ["source", "type"],
          "properties": {
            "source": {"type": "string"},
            "type": {"type": "string"}
          }
        },
        "conditions": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["kind"],
            "properties": {
              "kind": {"type": "string", "enum": ["rule", "semantic"]},
              "field": {"type": "string"},
              "operator": {
                "type": "string",
                "enum": ["eq", "neq", "in", "notIn", "contains", "startsWith", "between", "gt", "gte", "lt", "lte", "isNull", "isNotNull"]
              },
              "value": {},
              "prompt": {"type": "string"},
              "fields": {"type": "array", "items": {"type": "string"}}
            }
          }
        },
        "actions": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["kind"],
            "properties": {
              "kind": {"type": "string", "enum": ["tool", "llm", "wait", "check", "notify", "noop"]},
              "provider": {"type": "string"},
              "tool_name": {"type": "string"},
              "params": {"type": "object"},
              "continue_on_error": {"type": "boolean"}
            }
          }
        }
      }
    },
    "clarification": {
      "type": "object",
      "additionalProperties": false,
      "required": ["ambiguity", "question"],
      "properties": {
        "ambiguity": {"type": "string"},
        "question": {"type": "string"}
      }
    }
  }
}`
