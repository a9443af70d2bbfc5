// Package docs registers the OpenAPI document served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "{{.Title}}",
    "description": "{{escape .Description}}",
    "version": "{{.Version}}"
  },
  "host": "{{.Host}}",
  "basePath": "{{.BasePath}}",
  "paths": {
    "/healthz": {"get": {"tags": ["ops"], "summary": "Liveness and database check", "responses": {"200": {"description": "OK"}, "503": {"description": "Database unavailable"}}}},
    "/leaderboards/{metric_kind}": {"get": {"tags": ["leaderboards"], "summary": "Regional leaderboard",
      "parameters": [
        {"name": "metric_kind", "in": "path", "required": true, "type": "string", "enum": ["revenue", "growth", "engagement", "compliance"]},
        {"name": "limit", "in": "query", "type": "integer"},
        {"name": "period", "in": "query", "type": "string", "format": "date"}
      ],
      "responses": {"200": {"description": "Leaderboard"}, "400": {"description": "Validation error"}, "404": {"description": "No leaderboard"}}}},
    "/leaderboards/recompute": {"post": {"tags": ["leaderboards"], "summary": "Recompute every leaderboard for a period",
      "parameters": [{"name": "period", "in": "query", "required": true, "type": "string", "format": "date"}],
      "responses": {"200": {"description": "Recomputed"}, "400": {"description": "Validation error"}}}},
    "/clients/{client_id}/reports/latest": {"get": {"tags": ["reports"], "summary": "Latest weekly report of a client",
      "parameters": [{"name": "client_id", "in": "path", "required": true, "type": "string"}],
      "responses": {"200": {"description": "Report"}, "404": {"description": "No report"}}}},
    "/clients/{client_id}/reports": {
      "get": {"tags": ["reports"], "summary": "Report history of a client, oldest first",
        "parameters": [{"name": "client_id", "in": "path", "required": true, "type": "string"}, {"name": "since", "in": "query", "type": "string"}],
        "responses": {"200": {"description": "Reports"}, "400": {"description": "Validation error"}}},
      "post": {"tags": ["reports"], "summary": "Build a client's report for a period",
        "parameters": [{"name": "client_id", "in": "path", "required": true, "type": "string"}, {"name": "period", "in": "query", "required": true, "type": "string", "format": "date"}],
        "responses": {"200": {"description": "Report"}, "400": {"description": "Validation error"}}}
    },
    "/clients/{client_id}/delivery-preferences/{method}": {"put": {"tags": ["delivery"], "summary": "Create or replace a delivery preference",
      "parameters": [
        {"name": "client_id", "in": "path", "required": true, "type": "string"},
        {"name": "method", "in": "path", "required": true, "type": "string", "enum": ["email", "sms", "dashboard", "api"]}
      ],
      "responses": {"200": {"description": "Preference"}, "400": {"description": "Validation error"}}}},
    "/clients/{client_id}/inbox": {"get": {"tags": ["reports"], "summary": "Dashboard inbox of a client",
      "parameters": [{"name": "client_id", "in": "path", "required": true, "type": "string"}],
      "responses": {"200": {"description": "Inbox items"}}}},
    "/reports/{report_id}/viewed": {"post": {"tags": ["reports"], "summary": "Mark a delivered report as viewed",
      "parameters": [{"name": "report_id", "in": "path", "required": true, "type": "string"}],
      "responses": {"204": {"description": "Viewed"}, "404": {"description": "Unknown report"}, "409": {"description": "Report not delivered"}}}},
    "/ingest/region_snapshot": {"post": {"tags": ["ingest"], "summary": "Ingest a regional stats snapshot",
      "responses": {"201": {"description": "Created"}, "200": {"description": "Identical retry"}, "400": {"description": "Validation error"}, "409": {"description": "Conflicting values"}}}},
    "/ingest/client_sample": {"post": {"tags": ["ingest"], "summary": "Ingest a client engagement sample",
      "responses": {"201": {"description": "Created"}, "200": {"description": "Identical retry"}, "400": {"description": "Validation error"}, "409": {"description": "Conflicting values"}}}}
  }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "LocalLift Reporting API",
	Description:      "Regional leaderboards and weekly client engagement reports",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
