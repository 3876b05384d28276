package notify

import (
	"fmt"
	"strings"
)

// Type identifies a notification template
type Type string

const (
	TypeWelcome             Type = "welcome"
	TypeExpiryWarning30     Type = "expiry_warning_30"
	TypeExpiryWarning7      Type = "expiry_warning_7"
	TypeExpiryWarning1      Type = "expiry_warning_1"
	TypeExpiryWarning0      Type = "expiry_warning_0"
	TypeExpired             Type = "expired"
	TypeEditorAutoDowngrade Type = "editor_auto_downgrade"
	TypeExtensionApproved   Type = "extension_approved"
	TypePendingApproval     Type = "pending_approval"
	TypeAdminNotification   Type = "admin_notification"
	TypeGrantApproved       Type = "grant_approved"
	TypeGrantRejected       Type = "grant_rejected"
)

// AllTypes returns the closed set of notification types
func AllTypes() []Type {
	return []Type{
		TypeWelcome,
		TypeExpiryWarning30,
		TypeExpiryWarning7,
		TypeExpiryWarning1,
		TypeExpiryWarning0,
		TypeExpired,
		TypeEditorAutoDowngrade,
		TypeExtensionApproved,
		TypePendingApproval,
		TypeAdminNotification,
		TypeGrantApproved,
		TypeGrantRejected,
	}
}

// Valid reports whether t is in the closed set
func (t Type) Valid() bool {
	for _, v := range AllTypes() {
		if v == t {
			return true
		}
	}
	return false
}

// ParseType parses a notification type name
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown notification type %q", s)
	}
	return t, nil
}

// WarningDays lists the thresholds that have an expiry warning template
var WarningDays = []int{30, 7, 1, 0}

// WarningType returns the expiry warning type for a threshold in days
func WarningType(days int) (Type, bool) {
	t := Type(fmt.Sprintf("expiry_warning_%d", days))
	return t, t.Valid()
}

// LogStatus is the outcome of a send attempt
type LogStatus string

const (
	LogSent   LogStatus = "sent"
	LogFailed LogStatus = "failed"
)
