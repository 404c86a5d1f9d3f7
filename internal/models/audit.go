package models

import "time"

// Audit actions recorded for account and cohort changes.
const (
	AuditActionLogin           = "LOGIN"
	AuditActionBridgeLogin     = "BRIDGE_LOGIN"
	AuditActionLogout          = "LOGOUT"
	AuditActionUserCreate      = "USER_CREATE"
	AuditActionUserUpdate      = "USER_UPDATE"
	AuditActionUserDelete      = "USER_DELETE"
	AuditActionRoleChange      = "ROLE_CHANGE"
	AuditActionPasswordChange  = "PASSWORD_CHANGE"
	AuditActionPasswordReset   = "PASSWORD_RESET"
	AuditActionShadowProvision = "SHADOW_PROVISION"
	AuditActionMappingCreate   = "MAPPING_CREATE"
	AuditActionMappingDelete   = "MAPPING_DELETE"
	AuditActionGradeWrite      = "GRADE_WRITE"
	AuditActionDivisionWrite   = "DIVISION_WRITE"
	AuditActionGradeDelete     = "GRADE_DELETE"
	AuditActionDivisionDelete  = "DIVISION_DELETE"
	AuditActionStudentImport   = "STUDENT_IMPORT"
	AuditActionScheduleImport  = "SCHEDULE_IMPORT"
	AuditActionProjectWrite    = "PROJECT_WRITE"
	AuditActionReview          = "SUBMISSION_REVIEW"
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
