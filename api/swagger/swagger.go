package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Campus Attendance API",
        "description": "Attendance sessions, monthly summaries and PDF/XLSX attendance reports",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Attendance", "description": "Paired sessions and monthly buckets"},
        {"name": "Reports", "description": "Monthly attendance reports and async report jobs"},
        {"name": "Metrics", "description": "Operational metrics"}
    ],
    "paths": {
        "/attendance/sessions": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List paired attendance sessions",
                "parameters": [
                    {"name": "from", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "userId", "in": "query", "type": "string"},
                    {"name": "college", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}},
                    "400": {"description": "Invalid range", "schema": {"$ref": "#/definitions/Envelope"}},
                    "403": {"description": "Staff may only read their own sessions", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/attendance/sessions/export": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Download paired sessions as CSV or PDF",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "from", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "userId", "in": "query", "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"], "default": "csv"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/attendance/monthly": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Monthly attendance buckets",
                "parameters": [
                    {"name": "year", "in": "query", "required": true, "type": "integer"},
                    {"name": "month", "in": "query", "required": true, "type": "integer", "minimum": 1, "maximum": 12},
                    {"name": "userIds", "in": "query", "type": "array", "items": {"type": "string"}, "collectionFormat": "csv"},
                    {"name": "college", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK; meta.cache_hit reports a cache hit", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/attendance/monthly/cache": {
            "delete": {
                "tags": ["Attendance"],
                "summary": "Drop cached monthly summaries",
                "parameters": [
                    {"name": "year", "in": "query", "required": true, "type": "integer"},
                    {"name": "month", "in": "query", "required": true, "type": "integer"}
                ],
                "responses": {
                    "204": {"description": "Invalidated"}
                }
            }
        },
        "/reports/attendance/users/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download one user's monthly attendance report",
                "produces": ["application/pdf", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "year", "in": "query", "required": true, "type": "integer"},
                    {"name": "month", "in": "query", "required": true, "type": "integer"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["pdf", "xlsx"], "default": "pdf"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "404": {"description": "Unknown user", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/reports/attendance/combined": {
            "post": {
                "tags": ["Reports"],
                "summary": "Download a combined monthly attendance report",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CombinedReportRequest"}}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "422": {"description": "Nothing to export", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/reports/generate": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue an attendance report",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/reports/status/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/reports/jobs": {
            "get": {
                "tags": ["Reports"],
                "summary": "Caller's recent report jobs",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer", "default": 20}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished report via signed token",
                "security": [],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "410": {"description": "Link expired", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Metrics"],
                "summary": "Metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Envelope"}}
                }
            }
        }
    },
    "definitions": {
        "CombinedReportRequest": {
            "type": "object",
            "required": ["year", "month"],
            "properties": {
                "year": {"type": "integer"},
                "month": {"type": "integer"},
                "userIds": {"type": "array", "items": {"type": "string"}},
                "college": {"type": "string"},
                "format": {"type": "string", "enum": ["pdf", "xlsx"]}
            }
        },
        "ReportRequest": {
            "type": "object",
            "required": ["type", "format"],
            "properties": {
                "type": {"type": "string", "enum": ["attendance_single", "attendance_combined", "attendance_sessions"]},
                "year": {"type": "integer"},
                "month": {"type": "integer"},
                "userIds": {"type": "array", "items": {"type": "string"}},
                "college": {"type": "string"},
                "from": {"type": "string", "format": "date"},
                "to": {"type": "string", "format": "date"},
                "format": {"type": "string", "enum": ["pdf", "xlsx", "csv"]}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "Envelope": {
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
