package types

import "time"

// IngressEvent is the unit of work the Ingress Bus carries from a producer
// to the Turn Controller.
type IngressEvent struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Payload   string            `json:"payload"`
	Trust     TrustLevel        `json:"trust"`
	Timestamp time.Time         `json:"timestamp"`
	Images    []ImageAttachment `json:"images,omitempty"`
}
