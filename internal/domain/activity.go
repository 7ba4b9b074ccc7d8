package domain

import "time"

// ActorType describes the actor class that performed a mutation.
type ActorType string

// ActorType values.
const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAgent  ActorType = "agent"
	ActorTypeSystem ActorType = "system"
)

// Activity represents a single audit-ledger entry for one applied operation.
type Activity struct {
	ID             int64
	OrganisationID string
	LayoutID       string
	BlockID        string
	Operation      OperationKind
	ActorID        string
	ActorType      ActorType
	Metadata       map[string]string
	OccurredAt     time.Time
}
