package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Tuition API",
        "description": "Tuition installment plans, payment admission and reconciliation.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "PaymentPlans",
            "description": "Installment plan lifecycle"
        },
        {
            "name": "Payments",
            "description": "Payment admission, review and history"
        },
        {
            "name": "Receipts",
            "description": "Receipt documents and history exports"
        }
    ],
    "paths": {
        "/payment-plans": {
            "post": {
                "tags": [
                    "PaymentPlans"
                ],
                "summary": "Create a payment plan with its installment schedule",
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreatePaymentPlanRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "get": {
                "tags": [
                    "PaymentPlans"
                ],
                "summary": "List payment plans",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payer_id",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "billing_period_id",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string"
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer"
                    },
                    {
                        "name": "limit",
                        "in": "query",
                        "type": "integer"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payment-plans/{id}": {
            "get": {
                "tags": [
                    "PaymentPlans"
                ],
                "summary": "Payment plan summary",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Plan ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payment-plans/{id}/installments": {
            "get": {
                "tags": [
                    "PaymentPlans"
                ],
                "summary": "List a plan's installments",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Plan ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "put": {
                "tags": [
                    "PaymentPlans"
                ],
                "summary": "Edit installment due dates and amounts as one batch",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Plan ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/EditScheduleRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payment-plans/{id}/cancel": {
            "post": {
                "tags": [
                    "PaymentPlans"
                ],
                "summary": "Cancel a payment plan",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Plan ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payment-plans/{id}/overdue": {
            "post": {
                "tags": [
                    "PaymentPlans"
                ],
                "summary": "Apply the external overdue signal to a plan",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Plan ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/MarkOverdueRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payment-plans/{id}/payments": {
            "get": {
                "tags": [
                    "Payments"
                ],
                "summary": "Payment history of a plan",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Plan ID"
                    },
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payment-plans/{id}/payments/export": {
            "get": {
                "tags": [
                    "Receipts"
                ],
                "summary": "Export a plan's payment history",
                "responses": {
                    "200": {
                        "description": "File",
                        "schema": {
                            "type": "file"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Plan ID"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf"
                        ]
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "produces": [
                    "text/csv",
                    "application/pdf"
                ]
            }
        },
        "/payments": {
            "post": {
                "tags": [
                    "Payments"
                ],
                "summary": "Submit a payment for review",
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "Idempotency-Key",
                        "in": "header",
                        "required": false,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/PaymentRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payments/counter": {
            "post": {
                "tags": [
                    "Payments"
                ],
                "summary": "Record a payment taken at the school counter",
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "Idempotency-Key",
                        "in": "header",
                        "required": false,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/PaymentRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payments/{id}": {
            "get": {
                "tags": [
                    "Payments"
                ],
                "summary": "Get a payment",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Payment ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payments/{id}/review": {
            "post": {
                "tags": [
                    "Payments"
                ],
                "summary": "Approve or reject a pending payment",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Payment ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReviewPaymentRequest"
                        }
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/payments/{id}/receipt": {
            "get": {
                "tags": [
                    "Receipts"
                ],
                "summary": "Signed download link for an approved payment's receipt",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Payment ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/installments/{id}/payments": {
            "get": {
                "tags": [
                    "Payments"
                ],
                "summary": "Payment history of an installment",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Installment ID"
                    }
                ],
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/receipts/download": {
            "get": {
                "tags": [
                    "Receipts"
                ],
                "summary": "Download a receipt via signed token",
                "responses": {
                    "200": {
                        "description": "PDF",
                        "schema": {
                            "type": "file"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "token",
                        "in": "query",
                        "required": true,
                        "type": "string"
                    }
                ],
                "produces": [
                    "application/pdf"
                ]
            }
        }
    },
    "definitions": {
        "CreatePaymentPlanRequest": {
            "type": "object",
            "required": [
                "payer_id",
                "enrollment_id",
                "billing_period_id",
                "total_owed",
                "schedule_kind",
                "start_date"
            ],
            "properties": {
                "payer_id": {
                    "type": "string"
                },
                "enrollment_id": {
                    "type": "string"
                },
                "billing_period_id": {
                    "type": "string"
                },
                "total_owed": {
                    "type": "string",
                    "example": "2500.00"
                },
                "schedule_kind": {
                    "type": "string",
                    "enum": [
                        "FULL_PAYMENT",
                        "MONTHLY",
                        "QUARTERLY",
                        "SEMI_ANNUAL",
                        "CUSTOM"
                    ]
                },
                "installment_count": {
                    "type": "integer"
                },
                "start_date": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "ScheduleEditEntry": {
            "type": "object",
            "required": [
                "sequence_number"
            ],
            "properties": {
                "sequence_number": {
                    "type": "integer"
                },
                "due_date": {
                    "type": "string",
                    "format": "date-time"
                },
                "amount_due": {
                    "type": "string",
                    "example": "2500.00"
                }
            }
        },
        "EditScheduleRequest": {
            "type": "object",
            "properties": {
                "entries": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/ScheduleEditEntry"
                    }
                }
            }
        },
        "OverdueEntry": {
            "type": "object",
            "properties": {
                "sequence_number": {
                    "type": "integer"
                },
                "days_overdue": {
                    "type": "integer"
                },
                "late_fee": {
                    "type": "string",
                    "example": "2500.00"
                }
            }
        },
        "MarkOverdueRequest": {
            "type": "object",
            "properties": {
                "entries": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/OverdueEntry"
                    }
                }
            }
        },
        "DiscountApplication": {
            "type": "object",
            "properties": {
                "value": {
                    "type": "string",
                    "example": "2500.00"
                },
                "value_kind": {
                    "type": "string",
                    "enum": [
                        "FIXED",
                        "PERCENTAGE"
                    ]
                }
            }
        },
        "PaymentRequest": {
            "type": "object",
            "required": [
                "plan_id",
                "kind",
                "amount",
                "method"
            ],
            "properties": {
                "plan_id": {
                    "type": "string"
                },
                "installment_id": {
                    "type": "string"
                },
                "kind": {
                    "type": "string",
                    "enum": [
                        "FULL_TUITION_PAYMENT",
                        "INSTALLMENT_PAYMENT",
                        "OTHER_FEE"
                    ]
                },
                "amount": {
                    "type": "string",
                    "example": "2500.00"
                },
                "method": {
                    "type": "string",
                    "enum": [
                        "CASH",
                        "DIGITAL_WALLET",
                        "BANK_TRANSFER",
                        "CHECK",
                        "OTHER"
                    ]
                },
                "reference_number": {
                    "type": "string"
                },
                "proof_attachment": {
                    "type": "string"
                },
                "discount": {
                    "$ref": "#/definitions/DiscountApplication"
                },
                "note": {
                    "type": "string"
                }
            }
        },
        "ReviewPaymentRequest": {
            "type": "object",
            "required": [
                "status"
            ],
            "properties": {
                "status": {
                    "type": "string",
                    "enum": [
                        "APPROVED",
                        "REJECTED"
                    ]
                },
                "note": {
                    "type": "string"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                },
                "details": {
                    "type": "object"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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
