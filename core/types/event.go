package types

// Event is the external form of a ledger or conversion lifecycle notification.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute, or empty when absent.
func (e *Event) Attribute(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}
