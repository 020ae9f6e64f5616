package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	EntityTypeContact      = "contact"
	EntityTypeDeal         = "deal"
	EntityTypeConversation = "conversation"

	SourceManual = "manual"
)

// Entity is the canonical, tenant-scoped record fed by one or more providers.
type Entity struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	TenantID     uuid.UUID      `db:"tenant_id" json:"tenant_id"`
	EntityType   string         `db:"entity_type" json:"entity_type"`
	Name         string         `db:"name" json:"name"`
	Email        string         `db:"email" json:"email,omitempty"`
	Phone        string         `db:"phone" json:"phone,omitempty"`
	Organization string         `db:"organization" json:"organization,omitempty"`
	Position     string         `db:"position" json:"position,omitempty"`
	Tags         pq.StringArray `db:"tags" json:"tags"`
	CustomFields CustomFields   `db:"custom_fields" json:"custom_fields"`
	Score        *float64       `db:"score" json:"score,omitempty"`
	Source       string         `db:"source" json:"source"`
	Version      int            `db:"version" json:"version"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy safe to mutate.
func (e Entity) Clone() Entity {
	out := e
	out.Tags = append(pq.StringArray(nil), e.Tags...)
	out.CustomFields = e.CustomFields.Clone()
	if e.Score != nil {
		score := *e.Score
		out.Score = &score
	}
	return out
}

// EntityFields is the provider-independent result of mapping an external payload.
type EntityFields struct {
	Name         string       `json:"name"`
	Email        string       `json:"email,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	Organization string       `json:"organization,omitempty"`
	Position     string       `json:"position,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CustomFields CustomFields `json:"custom_fields,omitempty"`
	Score        *float64     `json:"score,omitempty"`
	// Links reference parent records of another entity type by their external id.
	Links []ExternalLink `json:"links,omitempty"`
}

// ExternalLink points at a record in the same provider that the mapped record belongs to.
type ExternalLink struct {
	Kind       string `json:"kind"`
	EntityType string `json:"entity_type"`
	ExternalID string `json:"external_id"`
}

// ApplyTo overwrites the mapped fields on e, keeping custom fields the provider did not send.
func (f EntityFields) ApplyTo(e *Entity) {
	e.Name = f.Name
	e.Email = f.Email
	e.Phone = f.Phone
	e.Organization = f.Organization
	e.Position = f.Position
	e.Tags = append(pq.StringArray(nil), f.Tags...)
	e.CustomFields = DeepMerge(e.CustomFields, f.CustomFields)
	if f.Score != nil {
		score := *f.Score
		e.Score = &score
	}
}

// Relationship links two canonical entities, e.g. a deal to its contact.
type Relationship struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Kind      string    `db:"kind" json:"kind"`
	FromID    uuid.UUID `db:"from_id" json:"from_id"`
	ToID      uuid.UUID `db:"to_id" json:"to_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ExternalEntityMap ties an external record to its canonical entity. Fingerprint reflects the
// last payload that was synchronized successfully.
type ExternalEntityMap struct {
	TenantID    uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Provider    string    `db:"provider" json:"provider"`
	EntityType  string    `db:"entity_type" json:"entity_type"`
	ExternalID  string    `db:"external_id" json:"external_id"`
	InternalID  uuid.UUID `db:"internal_id" json:"internal_id"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"last_seen_at"`
}
