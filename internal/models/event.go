package models

import "time"

// EventName identifies a transition event published to the event sink.
type EventName string

const (
	EventRequestSubmitted     EventName = "requestSubmitted"
	EventIntermediateApproved EventName = "intermediateApproved"
	EventIntermediateRejected EventName = "intermediateRejected"
	EventFinalApproved        EventName = "finalApproved"
	EventFinalRejected        EventName = "finalRejected"
	EventDeploymentCreated    EventName = "deploymentCreated"
	EventDeploymentExtended   EventName = "deploymentExtended"
	EventWorkerChanged        EventName = "workerChanged"
	EventDeploymentCompleted  EventName = "deploymentCompleted"
)

// DomainEvent is the payload published once per workflow or lifecycle
// transition. Emission is fire-and-forget; it never blocks or fails the
// originating command.
type DomainEvent struct {
	ID         string                 `json:"id"`
	Name       EventName              `json:"name"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
