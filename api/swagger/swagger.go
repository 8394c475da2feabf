package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Counseling Booking API",
        "description": "Time slot registry and appointment booking engine for student counseling.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [
        {"BearerAuth": []}
    ],
    "tags": [
        {"name": "Slots", "description": "Counselor availability"},
        {"name": "Appointments", "description": "Booking lifecycle"},
        {"name": "Students", "description": "Calling student's agenda"},
        {"name": "Counselors", "description": "Calling counselor's agenda"}
    ],
    "paths": {
        "/slots": {
            "post": {
                "tags": ["Slots"],
                "summary": "Publish a time slot",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSlotRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "INVALID_RANGE or VALIDATION_ERROR", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "SLOT_CONFLICT", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/slots/batch": {
            "post": {
                "tags": ["Slots"],
                "summary": "Generate consecutive slots over a working window",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSlotBatchRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "INVALID_RANGE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/slots/available": {
            "get": {
                "tags": ["Slots"],
                "summary": "Find available slots",
                "parameters": [
                    {"name": "counselorId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "date", "in": "query", "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "INVALID_RANGE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/slots/recent": {
            "get": {
                "tags": ["Slots"],
                "summary": "List upcoming available slots",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/slots/sweep": {
            "post": {
                "tags": ["Slots"],
                "summary": "Delete expired, never-booked slots",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/slots/{id}": {
            "delete": {
                "tags": ["Slots"],
                "summary": "Delete an unbooked slot",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "SLOT_NOT_FOUND", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "SLOT_BOOKED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/counselors/{id}/slots": {
            "get": {
                "tags": ["Slots"],
                "summary": "List a counselor's slots",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments": {
            "get": {
                "tags": ["Appointments"],
                "summary": "List appointments (administrators)",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["pending", "confirmed", "completed", "cancelled"]},
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "counselorId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Appointments"],
                "summary": "Book a slot",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAppointmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "SLOT_NOT_FOUND", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "SLOT_UNAVAILABLE or ALREADY_BOOKED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}": {
            "get": {
                "tags": ["Appointments"],
                "summary": "Get an appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "FORBIDDEN", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "APPOINTMENT_NOT_FOUND", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/confirm": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Confirm a pending appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "INVALID_TRANSITION", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/complete": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Complete a confirmed appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "INVALID_TRANSITION", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/appointments/{id}/cancel": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Cancel an active appointment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "FORBIDDEN", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "INVALID_TRANSITION", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/me/appointments": {
            "get": {
                "tags": ["Students"],
                "summary": "List the calling student's appointments",
                "parameters": [
                    {"name": "active", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/me/conflicts": {
            "get": {
                "tags": ["Students"],
                "summary": "Check whether the calling student is busy in a window",
                "parameters": [
                    {"name": "start", "in": "query", "required": true, "type": "string", "format": "date-time"},
                    {"name": "end", "in": "query", "required": true, "type": "string", "format": "date-time"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/counselors/me/appointments": {
            "get": {
                "tags": ["Counselors"],
                "summary": "List the calling counselor's appointments",
                "parameters": [
                    {"name": "active", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/counselors/me/appointments/today": {
            "get": {
                "tags": ["Counselors"],
                "summary": "List the calling counselor's appointments for today",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/counselors/me/appointments/pending-count": {
            "get": {
                "tags": ["Counselors"],
                "summary": "Count the calling counselor's pending appointments",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateSlotRequest": {
            "type": "object",
            "required": ["startTime", "endTime"],
            "properties": {
                "counselorId": {"type": "string"},
                "startTime": {"type": "string", "format": "date-time"},
                "endTime": {"type": "string", "format": "date-time"}
            }
        },
        "CreateSlotBatchRequest": {
            "type": "object",
            "required": ["dayStart", "dayEnd", "durationMinutes"],
            "properties": {
                "counselorId": {"type": "string"},
                "dayStart": {"type": "string", "format": "date-time"},
                "dayEnd": {"type": "string", "format": "date-time"},
                "durationMinutes": {"type": "integer"},
                "breakMinutes": {"type": "integer"}
            }
        },
        "CreateAppointmentRequest": {
            "type": "object",
            "required": ["timeSlotId"],
            "properties": {
                "timeSlotId": {"type": "string"},
                "notes": {"type": "string"}
            }
        },
        "TimeSlot": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "counselor_id": {"type": "string"},
                "counselor_name": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "status": {"type": "string", "enum": ["available", "booked", "cancelled"]}
            }
        },
        "Appointment": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "student_id": {"type": "string"},
                "counselor_id": {"type": "string"},
                "time_slot_id": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "confirmed", "completed", "cancelled"]},
                "notes": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "student_name": {"type": "string"},
                "counselor_name": {"type": "string"}
            }
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
