//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// swaggerDoc is the OpenAPI document served at /swagger/doc.json. It is kept
// by hand next to the handler annotations.
const swaggerDoc = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "description": "{{escape .Description}}", "version": "{{.Version}}"},
  "basePath": "{{.BasePath}}",
  "schemes": {{ marshal .Schemes }},
  "paths": {
    "/generate": {
      "post": {
        "summary": "Generate",
        "consumes": ["application/json"],
        "produces": ["application/x-ndjson"],
        "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/GenerateRequest"}}],
        "responses": {
          "200": {"description": "NDJSON step lines then a final line", "schema": {"$ref": "#/definitions/FinalLine"}},
          "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "429": {"description": "Overloaded", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "503": {"description": "No model loaded", "schema": {"$ref": "#/definitions/ErrorResponse"}},
          "504": {"description": "Generate timeout", "schema": {"$ref": "#/definitions/ErrorResponse"}}
        }
      }
    },
    "/models": {"get": {"summary": "List models", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
    "/status": {"get": {"summary": "Service status", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}}
  },
  "definitions": {
    "GenerateRequest": {
      "type": "object",
      "properties": {
        "prompts": {"type": "array", "items": {"type": "string"}},
        "tokens": {"type": "array", "items": {"type": "array", "items": {"type": "string"}}},
        "max_batch_size": {"type": "integer"},
        "batch_type": {"type": "string", "enum": ["examples", "tokens"]},
        "options": {"type": "object"},
        "max_new_tokens": {"type": "integer"},
        "suppress_eos": {"type": "boolean"},
        "stream": {"type": "boolean"}
      }
    },
    "FinalLine": {
      "type": "object",
      "properties": {
        "done": {"type": "boolean"},
        "request_id": {"type": "string"},
        "steps": {"type": "integer"},
        "results": {"type": "array", "items": {"type": "object"}}
      }
    },
    "ErrorResponse": {
      "type": "object",
      "properties": {"error": {"type": "string"}, "code": {"type": "integer"}, "field": {"type": "string"}}
    }
  }
}`

// SwaggerInfo holds the values substituted into swaggerDoc.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "batchgen API",
	Description:      "Batched streaming generation over an engine handle.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  swaggerDoc,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
