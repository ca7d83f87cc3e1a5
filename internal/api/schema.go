package api

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const submissionSchemaURL = "https://dvn.chaoschain.local/schemas/submission.schema.json"

const submissionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["store_id"],
  "properties": {
    "submission_id": {"type": "string", "maxLength": 128, "pattern": "^[A-Za-z0-9_.:-]*$"},
    "store_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "section": {"type": "string", "maxLength": 64},
    "scenario": {"type": "string", "maxLength": 32},
    "action_type": {"enum": ["KiranaAI_StockReport", "KiranaAI_InventoryAudit", "KiranaAI_ReorderAlert"]},
    "studio_id": {"type": "string", "maxLength": 64}
  }
}`

func compileSubmissionSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(submissionSchemaURL, strings.NewReader(submissionSchema)); err != nil {
		return nil, err
	}
	return c.Compile(submissionSchemaURL)
}
