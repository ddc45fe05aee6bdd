package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Tatib API",
        "description": "Violation escalation engine for school discipline workflows",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Catalog", "description": "Violation types and frequency rules"},
        {"name": "Violations", "description": "Violation records and student points"},
        {"name": "Coaching", "description": "Escalation evaluation and coaching lifecycle"},
        {"name": "Cases", "description": "Follow-up case approval workflow"},
        {"name": "Settings", "description": "Discipline thresholds with audit history"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/violation-types": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List violation types",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Catalog"],
                "summary": "Create a violation type",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/violation-types/{id}/rules": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List frequency rules of a type",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Catalog"],
                "summary": "Add a frequency rule",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/violations": {
            "get": {
                "tags": ["Violations"],
                "summary": "List violation records",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Violations"],
                "summary": "Record a violation and run the escalation pipeline",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/points": {
            "get": {
                "tags": ["Violations"],
                "summary": "Recomputed point total with per-record breakdown",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/escalation": {
            "get": {
                "tags": ["Coaching"],
                "summary": "Evaluate the student's escalation recommendation",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/coaching": {
            "get": {
                "tags": ["Coaching"],
                "summary": "List coaching statuses",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cases": {
            "get": {
                "tags": ["Cases"],
                "summary": "List follow-up cases",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Cases"],
                "summary": "Create a follow-up case",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/settings": {
            "get": {
                "tags": ["Settings"],
                "summary": "List discipline settings",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/settings/bulk": {
            "put": {
                "tags": ["Settings"],
                "summary": "Bulk update settings with consistency validation",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
