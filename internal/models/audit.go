package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionPlanCreate       = "PAYMENT_PLAN_CREATE"
	AuditActionPlanCancel       = "PAYMENT_PLAN_CANCEL"
	AuditActionScheduleEdit     = "INSTALLMENT_SCHEDULE_EDIT"
	AuditActionOverdueMark      = "INSTALLMENT_OVERDUE_MARK"
	AuditActionPaymentSubmit    = "PAYMENT_SUBMIT"
	AuditActionPaymentCounter   = "PAYMENT_COUNTER_RECORD"
	AuditActionPaymentReview    = "PAYMENT_REVIEW"
	AuditActionPaymentRejection = "PAYMENT_ADMISSION_REJECTED"
	AuditActionReceiptDownload  = "RECEIPT_DOWNLOAD"
	AuditActionHistoryExport    = "PAYMENT_HISTORY_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
