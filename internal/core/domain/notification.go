package domain

// Severity controls how a client renders a notification.
type Severity string

const (
	SeveritySuccess     Severity = "success"
	SeverityInfo        Severity = "info"
	SeverityWarning     Severity = "warning"
	SeverityDestructive Severity = "destructive"
)

// Notification is a user-facing message describing an operation outcome.
type Notification struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// IsFailure reports whether the notification describes a failed operation.
func (n Notification) IsFailure() bool {
	return n.Severity == SeverityDestructive
}
