package domain

import "time"

// CaseStatus represents the review state of an investigation case.
type CaseStatus string

const (
	CaseStatusOpen     CaseStatus = "open"
	CaseStatusReview   CaseStatus = "review"
	CaseStatusArchived CaseStatus = "archived"
)

// Case represents a cold case under investigation. All evidence, board
// entities, and jobs are scoped to a case.
type Case struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	Title        string     `gorm:"type:text;not null" json:"title"`
	Summary      string     `gorm:"type:text" json:"summary,omitempty"`
	Jurisdiction string     `gorm:"type:text" json:"jurisdiction,omitempty"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	Status       CaseStatus `gorm:"type:text;index;default:open" json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Case.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Case) TableName() string {
	return "cases"
}
