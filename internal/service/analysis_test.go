package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/samrosenbaum/cracker/internal/domain"
)

func TestParseFindings(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantErr      bool
		wantEntities int
	}{
		{
			name:         "plain JSON",
			content:      `{"entities":[{"name":"Ray Donnelly","type":"person","suspect":true,"confidence":0.9}]}`,
			wantEntities: 1,
		},
		{
			name: "fenced JSON with language tag",
			content: "```json\n" +
				`{"entities":[{"name":"Harbor Cafe","type":"location","confidence":0.7}]}` +
				"\n```",
			wantEntities: 1,
		},
		{
			name:         "invalid entity type dropped",
			content:      `{"entities":[{"name":"Ray","type":"ghost","confidence":0.5},{"name":"Ray","type":"person","confidence":0.5}]}`,
			wantEntities: 1,
		},
		{
			name:         "entity without name dropped",
			content:      `{"entities":[{"name":"","type":"person","confidence":0.5}]}`,
			wantEntities: 0,
		},
		{
			name:    "not JSON",
			content: "I could not find anything of note.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFindings(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFindings: %v", err)
			}
			if len(f.Entities) != tt.wantEntities {
				t.Errorf("entities = %d, want %d", len(f.Entities), tt.wantEntities)
			}
		})
	}
}

func TestParseFindingsNormalization(t *testing.T) {
	content := `{
		"entities": [{"name": "Ray", "type": "person", "confidence": 1.8}],
		"alibis": [{"person": "Ray", "claim": "at the docks", "status": "maybe", "confidence": -0.2}]
	}`

	f, err := ParseFindings(content)
	if err != nil {
		t.Fatalf("ParseFindings: %v", err)
	}
	if got := f.Entities[0].Confidence; got != 1 {
		t.Errorf("entity confidence = %v, want clamped to 1", got)
	}
	if got := f.Alibis[0].Status; got != string(domain.AlibiStatusUnverified) {
		t.Errorf("alibi status = %q, want %q", got, domain.AlibiStatusUnverified)
	}
	if got := f.Alibis[0].Confidence; got != 0 {
		t.Errorf("alibi confidence = %v, want clamped to 0", got)
	}
}

func TestShapeFindings(t *testing.T) {
	f := &Findings{
		Entities: []FindingEntity{
			{Name: "Ray Donnelly", Type: "person", Suspect: true, Aliases: []string{"Sunny Ray"}, Confidence: 0.9},
			{Name: "Harbor Cafe", Type: "location", Confidence: 0.8},
		},
		Connections: []FindingConn{
			{From: "Sunny Ray", To: "Harbor Cafe", Relation: "seen_at", Confidence: 0.7},
			{From: "Ray Donnelly", To: "Unknown Witness", Relation: "called", Confidence: 0.5},
		},
		TimelineEvents: []FindingEvent{
			{Description: "Victim last seen leaving the cafe. Staff confirm the time.", DateText: "the night of March 3rd", Confidence: 0.6},
			{Description: "", Confidence: 0.4},
		},
		Alibis: []FindingAlibi{
			{Person: "ray donnelly", Claim: "home all evening", Status: "unverified", Confidence: 0.3},
			{Person: "Nobody", Claim: "out of town", Status: "unverified", Confidence: 0.3},
		},
	}

	rows := ShapeFindings("case-1", "doc-1", f)

	if len(rows.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(rows.Entities))
	}
	for _, e := range rows.Entities {
		if e.CaseID != "case-1" || e.SourceDocID != "doc-1" {
			t.Errorf("entity %q missing case/doc attribution", e.Name)
		}
		if e.ID == "" {
			t.Errorf("entity %q has empty ID", e.Name)
		}
	}

	if len(rows.Connections) != 1 {
		t.Fatalf("connections = %d, want 1 (dangling endpoint dropped)", len(rows.Connections))
	}
	conn := rows.Connections[0]
	if conn.FromEntity != rows.Entities[0].ID {
		t.Errorf("connection from = %q, want alias resolved to %q", conn.FromEntity, rows.Entities[0].ID)
	}
	if conn.ToEntity != rows.Entities[1].ID {
		t.Errorf("connection to = %q, want %q", conn.ToEntity, rows.Entities[1].ID)
	}

	if len(rows.TimelineEvents) != 1 {
		t.Fatalf("timeline events = %d, want 1 (empty description dropped)", len(rows.TimelineEvents))
	}
	ev := rows.TimelineEvents[0]
	if ev.Title != "Victim last seen leaving the cafe" {
		t.Errorf("event title = %q", ev.Title)
	}
	if ev.OccurredAt != nil {
		t.Errorf("occurred_at = %v, want nil for vague date", ev.OccurredAt)
	}
	if ev.DateText != "the night of March 3rd" {
		t.Errorf("date_text = %q", ev.DateText)
	}

	if len(rows.Alibis) != 1 {
		t.Fatalf("alibis = %d, want 1 (unknown person dropped)", len(rows.Alibis))
	}
	if rows.Alibis[0].EntityID != rows.Entities[0].ID {
		t.Errorf("alibi entity = %q, want case-insensitive match to %q", rows.Alibis[0].EntityID, rows.Entities[0].ID)
	}
}

func TestAnalyzeDocument(t *testing.T) {
	findings := `{"entities":[{"name":"Ray Donnelly","type":"person","suspect":true,"confidence":0.9}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "witness statement text") {
			t.Errorf("document text not included in user message")
		}
		content, _ := json.Marshal(findings)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":` + string(content) + `}}]}`))
	}))
	defer srv.Close()

	svc := NewAnalysisService(&AnalysisConfig{Model: "test-model", APIKey: "key", BaseURL: srv.URL})
	f, err := svc.AnalyzeDocument(context.Background(), "witness statement text")
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if len(f.Entities) != 1 || f.Entities[0].Name != "Ray Donnelly" {
		t.Errorf("unexpected findings: %+v", f)
	}
}

func TestAnalyzeDocumentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	svc := NewAnalysisService(&AnalysisConfig{Model: "test-model", APIKey: "key", BaseURL: srv.URL})
	if _, err := svc.AnalyzeDocument(context.Background(), "text"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
