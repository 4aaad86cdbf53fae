package models

// AlertVariant mirrors the bootstrap variants the UI renders.
type AlertVariant string

const (
	AlertWarning AlertVariant = "warning"
	AlertDanger  AlertVariant = "danger"
	AlertInfo    AlertVariant = "info"
)

// Alert is the single current user-visible notification. Alerts render as
// dismissible banners; they never block the UI.
type Alert struct {
	Variant AlertVariant `json:"variant"`
	Message string       `json:"message"`
}

func MakeAlert(variant AlertVariant, message string) *Alert {
	return &Alert{Variant: variant, Message: message}
}

func MakeWarningAlert(message string) *Alert {
	return MakeAlert(AlertWarning, message)
}

func MakeDangerAlert(message string) *Alert {
	return MakeAlert(AlertDanger, message)
}
