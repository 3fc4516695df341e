package domain

// CaseSnapshot is the full authoritative payload for one case: everything
// the board renders. Clients rebuild their view state from a snapshot after
// every completed job rather than patching local copies.
type CaseSnapshot struct {
	Case           *Case           `json:"case,omitempty"`
	Documents      []Document      `json:"documents"`
	Entities       []Entity        `json:"entities"`
	Connections    []Connection    `json:"connections"`
	TimelineEvents []TimelineEvent `json:"timeline_events"`
	Alibis         []Alibi         `json:"alibis"`
}

// Empty reports whether the snapshot carries no analysis output at all.
// Documents are deliberately excluded: uploads exist before any job runs,
// so their presence says nothing about job completion.
func (s *CaseSnapshot) Empty() bool {
	return len(s.Entities) == 0 &&
		len(s.Connections) == 0 &&
		len(s.TimelineEvents) == 0 &&
		len(s.Alibis) == 0
}

// HasNewDataSince reports whether any tracked collection became non-empty
// relative to a previous snapshot. This backs the data-arrival fallback used
// when a trigger endpoint exposes no job id: it can miss a job that produced
// zero net new rows and can fire on rows written by an unrelated process, so
// it is consulted only when no job id is available.
func (s *CaseSnapshot) HasNewDataSince(prev *CaseSnapshot) bool {
	if prev == nil {
		return !s.Empty()
	}
	if len(prev.Entities) == 0 && len(s.Entities) > 0 {
		return true
	}
	if len(prev.Connections) == 0 && len(s.Connections) > 0 {
		return true
	}
	if len(prev.TimelineEvents) == 0 && len(s.TimelineEvents) > 0 {
		return true
	}
	if len(prev.Alibis) == 0 && len(s.Alibis) > 0 {
		return true
	}
	return false
}
