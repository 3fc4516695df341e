package domain

import "testing"

// TestJobProgress verifies the derived progress percentage.
func TestJobProgress(t *testing.T) {
	testCases := []struct {
		name      string
		total     int
		completed int
		failed    int
		want      int
	}{
		{name: "zero total reports zero", total: 0, completed: 0, failed: 0, want: 0},
		{name: "half done", total: 10, completed: 5, failed: 0, want: 50},
		{name: "failures count toward progress", total: 10, completed: 3, failed: 2, want: 50},
		{name: "all accounted", total: 4, completed: 3, failed: 1, want: 100},
		{name: "integer truncation", total: 3, completed: 1, failed: 0, want: 33},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			job := &AnalysisJob{
				TotalUnits:     tc.total,
				CompletedUnits: tc.completed,
				FailedUnits:    tc.failed,
			}
			if got := job.Progress(); got != tc.want {
				t.Errorf("Progress() = %d, want %d", got, tc.want)
			}
		})
	}
}

// TestJobTerminal verifies terminal state detection for every status.
func TestJobTerminal(t *testing.T) {
	testCases := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			job := &AnalysisJob{Status: tc.status}
			if got := job.Terminal(); got != tc.want {
				t.Errorf("Terminal() with status %q = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

// TestSnapshotHasNewDataSince covers the data-arrival fallback semantics.
func TestSnapshotHasNewDataSince(t *testing.T) {
	empty := &CaseSnapshot{}
	withEntities := &CaseSnapshot{Entities: []Entity{{ID: "e1"}}}
	withTimeline := &CaseSnapshot{TimelineEvents: []TimelineEvent{{ID: "t1"}}}

	if empty.HasNewDataSince(empty) {
		t.Error("empty snapshot should not report new data against empty baseline")
	}
	if !withEntities.HasNewDataSince(empty) {
		t.Error("entities appearing should count as new data")
	}
	if !withTimeline.HasNewDataSince(nil) {
		t.Error("non-empty snapshot against nil baseline should count as new data")
	}
	if withEntities.HasNewDataSince(withEntities) {
		t.Error("unchanged non-empty collection should not count as new data")
	}

	// Documents alone never trip the heuristic.
	docsOnly := &CaseSnapshot{Documents: []Document{{ID: "d1"}}}
	if docsOnly.HasNewDataSince(empty) {
		t.Error("documents alone should not count as new data")
	}
	if !docsOnly.Empty() {
		t.Error("snapshot with only documents should be considered empty of analysis output")
	}
}
