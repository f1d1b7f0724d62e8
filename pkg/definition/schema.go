package definition

// rawSchema is the JSON Schema every deployed definition document must
// satisfy before graph validation runs. Graph-level rules (reachability,
// start/end arity, edge targets) are checked separately in validate.go.
const rawSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Process definition",
  "type": "object",
  "required": ["id", "nodes"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[a-zA-Z0-9][a-zA-Z0-9_-]*$"
    },
    "name": {
      "type": "string"
    },
    "nodes": {
      "type": "array",
      "minItems": 2,
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {
            "type": "string",
            "minLength": 1
          },
          "kind": {
            "type": "string",
            "enum": ["start", "end", "service_task", "gateway"]
          },
          "task_type": {
            "type": "string",
            "minLength": 1
          },
          "retries": {
            "type": "integer",
            "minimum": 0
          }
        },
        "additionalProperties": false
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {
            "type": "string",
            "minLength": 1
          },
          "to": {
            "type": "string",
            "minLength": 1
          }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`
