package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Site Entry API",
        "description": "Cross-company site entry approvals and deployment lifecycle",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token management"},
        {"name": "EntryRequests", "description": "Two-stage entry request approvals"},
        {"name": "Deployments", "description": "Equipment/worker deployment lifecycle"},
        {"name": "WorkPlans", "description": "Work plan document storage"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/entry-requests": {
            "get": {
                "tags": ["EntryRequests"],
                "summary": "List entry requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["EntryRequests"],
                "summary": "Submit entry request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitEntryRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/entry-requests/{id}": {
            "get": {
                "tags": ["EntryRequests"],
                "summary": "Get entry request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/entry-requests/{id}/intermediate-approval": {
            "post": {
                "tags": ["EntryRequests"],
                "summary": "Approve as intermediate company",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IntermediateApproveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition"}
                }
            }
        },
        "/entry-requests/{id}/intermediate-rejection": {
            "post": {
                "tags": ["EntryRequests"],
                "summary": "Reject as intermediate company",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectEntryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition"}
                }
            }
        },
        "/entry-requests/{id}/final-approval": {
            "post": {
                "tags": ["EntryRequests"],
                "summary": "Approve as final authorizer",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FinalApproveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition"}
                }
            }
        },
        "/entry-requests/{id}/final-rejection": {
            "post": {
                "tags": ["EntryRequests"],
                "summary": "Reject as final authorizer",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectEntryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition"}
                }
            }
        },
        "/deployments": {
            "get": {
                "tags": ["Deployments"],
                "summary": "List deployments",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "equipment_id", "in": "query", "type": "string"},
                    {"name": "worker_id", "in": "query", "type": "string"},
                    {"name": "entry_request_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Deployments"],
                "summary": "Create deployment from approved entry request",
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateDeploymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicting deployment or request not approved"}
                }
            }
        },
        "/deployments/{id}": {
            "get": {
                "tags": ["Deployments"],
                "summary": "Get deployment with audit trail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/deployments/{id}/extend": {
            "post": {
                "tags": ["Deployments"],
                "summary": "Extend planned end date",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExtendDeploymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Deployment completed"}
                }
            }
        },
        "/deployments/{id}/change-worker": {
            "post": {
                "tags": ["Deployments"],
                "summary": "Substitute assigned worker",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangeWorkerRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflicting deployment"}
                }
            }
        },
        "/deployments/{id}/complete": {
            "post": {
                "tags": ["Deployments"],
                "summary": "Complete deployment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CompleteDeploymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already completed"}
                }
            }
        },
        "/deployments/export": {
            "get": {
                "tags": ["Deployments"],
                "summary": "Export deployments as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File download"}
                }
            }
        },
        "/work-plans": {
            "post": {
                "tags": ["WorkPlans"],
                "summary": "Upload work plan document",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/work-plans/signed-url": {
            "get": {
                "tags": ["WorkPlans"],
                "summary": "Issue signed download token",
                "parameters": [
                    {"name": "ref", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/work-plans/download": {
            "get": {
                "tags": ["WorkPlans"],
                "summary": "Download work plan via signed token",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File download"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "SubmitEntryRequest": {
            "type": "object",
            "properties": {
                "intermediate_company_id": {"type": "string"},
                "purpose": {"type": "string"},
                "start_date": {"type": "string"},
                "end_date": {"type": "string"},
                "items": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/EntryRequestItemPayload"}
                }
            },
            "required": ["intermediate_company_id", "purpose", "start_date", "end_date", "items"]
        },
        "EntryRequestItemPayload": {
            "type": "object",
            "properties": {
                "item_type": {"type": "string", "enum": ["EQUIPMENT", "WORKER"]},
                "identity_id": {"type": "string"},
                "paired_index": {"type": "integer"}
            },
            "required": ["item_type", "identity_id"]
        },
        "IntermediateApproveRequest": {
            "type": "object",
            "properties": {
                "final_company_id": {"type": "string"},
                "work_plan_ref": {"type": "string"},
                "comment": {"type": "string"}
            },
            "required": ["final_company_id", "work_plan_ref"]
        },
        "FinalApproveRequest": {
            "type": "object",
            "properties": {
                "comment": {"type": "string"}
            }
        },
        "RejectEntryRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "CreateDeploymentRequest": {
            "type": "object",
            "properties": {
                "entry_request_id": {"type": "string"},
                "equipment_id": {"type": "string"},
                "worker_id": {"type": "string"},
                "final_company_id": {"type": "string"},
                "start_date": {"type": "string"},
                "planned_end_date": {"type": "string"},
                "site_name": {"type": "string"},
                "site_address": {"type": "string"},
                "rate_schedule": {"type": "object"},
                "idempotency_key": {"type": "string"}
            },
            "required": ["entry_request_id", "equipment_id", "worker_id", "final_company_id", "start_date", "planned_end_date"]
        },
        "ExtendDeploymentRequest": {
            "type": "object",
            "properties": {
                "new_end_date": {"type": "string"},
                "reason": {"type": "string"}
            },
            "required": ["new_end_date", "reason"]
        },
        "ChangeWorkerRequest": {
            "type": "object",
            "properties": {
                "new_worker_id": {"type": "string"},
                "reason": {"type": "string"}
            },
            "required": ["new_worker_id", "reason"]
        },
        "CompleteDeploymentRequest": {
            "type": "object",
            "properties": {
                "actual_end_date": {"type": "string"}
            },
            "required": ["actual_end_date"]
        },
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
