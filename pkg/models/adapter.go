package models

import "time"

// AdapterStatus is the lifecycle state of an adapter
type AdapterStatus string

const (
	// AdapterStopped means the adapter must not be scheduled or executed
	AdapterStopped AdapterStatus = "STOPPED"

	// AdapterStarted means the adapter is eligible for scheduling
	AdapterStarted AdapterStatus = "STARTED"
)

// AdapterDirection distinguishes data producers from consumers
type AdapterDirection string

const (
	// AdapterSender produces data for a flow
	AdapterSender AdapterDirection = "SENDER"

	// AdapterReceiver consumes data from a flow
	AdapterReceiver AdapterDirection = "RECEIVER"
)

// Adapter is an external connector. The transfer mechanics live behind
// the AdapterService collaborator; this model only carries the identity,
// lifecycle state and live configuration the orchestration layer reads.
type Adapter struct {
	// ID of the adapter
	ID string `json:"id"`

	// Name of the adapter
	Name string `json:"name"`

	// Type identifies the protocol implementation (file, sftp, email, ...)
	Type string `json:"type"`

	// Direction is SENDER or RECEIVER
	Direction AdapterDirection `json:"direction"`

	// Active gates scheduling eligibility together with Status
	Active bool `json:"active"`

	// Status is the adapter lifecycle state
	Status AdapterStatus `json:"status"`

	// Configuration is the live configuration blob. For sender adapters
	// it carries the scheduling keys (scheduleMode, everyInterval, ...).
	Configuration map[string]interface{} `json:"configuration,omitempty"`

	// UpdatedAt is when the adapter was last modified
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedulable reports whether the scheduler may register a task for
// this adapter.
func (a *Adapter) Schedulable() bool {
	return a.Active && a.Status == AdapterStarted
}
