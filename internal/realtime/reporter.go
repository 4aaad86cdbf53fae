package realtime

import (
	"encoding/json"
	"fmt"
	"log"

	"transfer/internal/api/models"

	"github.com/nats-io/nats.go"
)

// StateReporter publishes view snapshots for one session via NATS. Best
// effort: when the NATS connection fails it degrades to a no-op so state
// publishing never fails an execution.
type StateReporter struct {
	conn    *nats.Conn
	subject string
	noop    bool
}

// NewStateReporter connects to NATS and targets the session's state subject.
func NewStateReporter(natsURL, tenantID, sessionID string) *StateReporter {
	subject := fmt.Sprintf("tenant.%s.transfer.%s.state", tenantID, sessionID)

	nc, err := nats.Connect(natsURL)
	if err != nil {
		log.Printf("WARNING: NATS connection failed (%s), state publishing disabled: %v", natsURL, err)
		return &StateReporter{noop: true, subject: subject}
	}

	log.Printf("NATS connected, publishing state to subject: %s", subject)
	return &StateReporter{
		conn:    nc,
		subject: subject,
	}
}

// Close drains and closes the NATS connection.
func (r *StateReporter) Close() {
	if r.noop || r.conn == nil {
		return
	}
	if err := r.conn.Drain(); err != nil {
		log.Printf("NATS drain error: %v", err)
	}
}

// Publish sends a full view snapshot.
func (r *StateReporter) Publish(state models.ViewState) {
	if r.noop {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("state marshal error: %v", err)
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		log.Printf("state publish error: %v", err)
	}
}
