package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Segment is a saved dynamic audience: a serialized boolean rule tree over
// customer attributes ($and / $or of field predicates).
type Segment struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"org_id"`
	BranchID  uuid.UUID       `json:"branch_id"`
	Name      string          `json:"name"`
	Rules     json.RawMessage `json:"rules"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Customer is the recipient record. ListIDs carries the contact-list
// memberships used by list-category audiences; Attributes feeds segment
// predicates.
type Customer struct {
	ID         uuid.UUID      `json:"id"`
	OrgID      uuid.UUID      `json:"org_id"`
	BranchID   uuid.UUID      `json:"branch_id"`
	Phone      string         `json:"phone"`
	Name       string         `json:"name"`
	ListIDs    []uuid.UUID    `json:"list_ids,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
