package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const intentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["sourceChain", "destinationChain", "tokenIn", "tokenOut", "amountIn", "deadline", "signature"],
  "properties": {
    "sourceChain": { "type": "string", "minLength": 1 },
    "destinationChain": { "type": "string", "minLength": 1 },
    "tokenIn": { "type": "string", "minLength": 1 },
    "tokenOut": { "type": "string", "minLength": 1 },
    "amountIn": { "type": "string", "minLength": 1 },
    "minAmountOut": { "type": "string" },
    "deadline": { "type": "integer", "minimum": 0 },
    "signature": { "type": "string" },
    "signer": { "type": "string", "pattern": "^0x[0-9a-fA-F]{40}$" }
  },
  "additionalProperties": false
}`

const notificationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["intentId"],
  "anyOf": [
    { "required": ["event"] },
    { "required": ["status"] }
  ],
  "properties": {
    "intentId": { "type": "string", "minLength": 1 },
    "event": { "type": "string", "minLength": 1 },
    "status": { "type": "string", "minLength": 1 },
    "timestamp": { "type": "integer", "minimum": 0 },
    "reasonCode": { "type": "string" },
    "operatorLog": { "type": "string" },
    "settlementTx": { "type": "string" },
    "sessionId": { "type": "string" },
    "channel": { "type": "string" },
    "provider": { "type": "string" },
    "details": { "type": "object" },
    "metadata": { "type": "object" }
  }
}`

const abortSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "reason": { "type": "string" }
  },
  "additionalProperties": false
}`

var (
	intentLoader       = gojsonschema.NewStringLoader(intentSchema)
	notificationLoader = gojsonschema.NewStringLoader(notificationSchema)
	abortLoader        = gojsonschema.NewStringLoader(abortSchema)
)

// validateJSONSchema checks body against schema and joins every violation.
func validateJSONSchema(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("request does not conform to schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
