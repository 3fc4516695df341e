package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// EntityType classifies a board entity.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeLocation     EntityType = "location"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeVehicle      EntityType = "vehicle"
)

// Entity represents a person, place, organization, or object surfaced by
// analysis and pinned to the investigation board.
type Entity struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	CaseID      string      `gorm:"type:text;not null;index" json:"case_id"`
	Type        EntityType  `gorm:"type:text;index" json:"type"`
	Name        string      `gorm:"type:text;not null" json:"name"`
	Description string      `gorm:"type:text" json:"description,omitempty"`
	Suspect     bool        `gorm:"index" json:"suspect"`
	Confidence  float64     `json:"confidence"`
	Aliases     StringArray `gorm:"type:text" json:"aliases"`
	SourceDocID string      `gorm:"type:text;index" json:"source_doc_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Entity.
func (Entity) TableName() string {
	return "entities"
}

// Connection represents a relationship between two board entities,
// e.g. "A employed B" or "A was seen with B".
type Connection struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	CaseID      string    `gorm:"type:text;not null;index" json:"case_id"`
	FromEntity  string    `gorm:"type:text;not null;index" json:"from_entity"`
	ToEntity    string    `gorm:"type:text;not null;index" json:"to_entity"`
	Relation    string    `gorm:"type:text" json:"relation"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
	SourceDocID string    `gorm:"type:text" json:"source_doc_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Connection.
func (Connection) TableName() string {
	return "connections"
}

// TimelineEvent represents a dated event reconstructed from the evidence.
type TimelineEvent struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	CaseID      string     `gorm:"type:text;not null;index" json:"case_id"`
	OccurredAt  *time.Time `gorm:"index" json:"occurred_at,omitempty"`
	DateText    string     `gorm:"type:text" json:"date_text,omitempty"`
	Title       string     `gorm:"type:text;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description,omitempty"`
	Confidence  float64    `json:"confidence"`
	SourceDocID string     `gorm:"type:text" json:"source_doc_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for TimelineEvent.
func (TimelineEvent) TableName() string {
	return "timeline_events"
}

// AlibiStatus tracks how well an alibi holds up.
type AlibiStatus string

const (
	AlibiStatusUnverified   AlibiStatus = "unverified"
	AlibiStatusCorroborated AlibiStatus = "corroborated"
	AlibiStatusContradicted AlibiStatus = "contradicted"
)

// Alibi records a claimed whereabouts for an entity during a time window.
type Alibi struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	CaseID      string      `gorm:"type:text;not null;index" json:"case_id"`
	EntityID    string      `gorm:"type:text;not null;index" json:"entity_id"`
	Claim       string      `gorm:"type:text;not null" json:"claim"`
	WindowStart *time.Time  `json:"window_start,omitempty"`
	WindowEnd   *time.Time  `json:"window_end,omitempty"`
	Status      AlibiStatus `gorm:"type:text;default:unverified" json:"status"`
	SourceDocID string      `gorm:"type:text" json:"source_doc_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Alibi.
func (Alibi) TableName() string {
	return "alibis"
}
