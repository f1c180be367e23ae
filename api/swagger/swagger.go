package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Tracker Closure API",
        "description": "Closes lost-to-follow-up enrollments in a DHIS2 tracker program",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Closures", "description": "Closure runs"},
        {"name": "Health", "description": "Probes and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Health"],
                "summary": "Liveness probe with queue depth",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": ["Health"],
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/closures": {
            "get": {
                "tags": ["Closures"],
                "summary": "Recent closure runs of a program",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "programId", "in": "query", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Closures"],
                "summary": "Queue a closure run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClosePatientsRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/closures/preview": {
            "post": {
                "tags": ["Closures"],
                "summary": "Preview the closure payload without submitting it",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClosePatientsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Tracker request failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/closures/{id}": {
            "get": {
                "tags": ["Closures"],
                "summary": "Closure run status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "DataValuePair": {
            "type": "object",
            "required": ["dataElement", "value"],
            "properties": {
                "dataElement": {"type": "string"},
                "value": {"type": "string"}
            }
        },
        "ClosePatientsRequest": {
            "type": "object",
            "required": ["programId", "programStageIds", "closureStageId", "timeOfReference", "dataValuePairs"],
            "properties": {
                "orgUnitIds": {"type": "array", "items": {"type": "string"}},
                "startDate": {"type": "string", "format": "date"},
                "endDate": {"type": "string", "format": "date"},
                "programId": {"type": "string"},
                "programStageIds": {"type": "array", "items": {"type": "string"}},
                "closureStageId": {"type": "string"},
                "timeOfReference": {"type": "integer", "minimum": 0},
                "dataValuePairs": {"type": "array", "items": {"$ref": "#/definitions/DataValuePair"}},
                "comment": {"$ref": "#/definitions/DataValuePair"},
                "post": {"type": "boolean"},
                "report": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
