package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/prompts"
)

// AnalysisService extracts structured findings from case documents using an
// OpenAI-compatible chat completion model.
type AnalysisService struct {
	client   *resty.Client
	model    string
	endpoint string
}

// AnalysisConfig holds configuration for the analysis service.
type AnalysisConfig struct {
	Model   string
	APIKey  string
	BaseURL string
}

// NewAnalysisService creates a new analysis service.
// Parameters:
//   - cfg: analysis configuration including model and API key.
//
// Returns:
//   - *AnalysisService: initialized chat completion client wrapper.
func NewAnalysisService(cfg *AnalysisConfig) *AnalysisService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	// Set timeout to prevent hanging requests
	client.SetTimeout(120 * time.Second)

	// Default to OpenAI compatible endpoint if not specified
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	endpoint := baseURL + "/chat/completions"

	return &AnalysisService{
		client:   client,
		model:    cfg.Model,
		endpoint: endpoint,
	}
}

// GetModel returns the model name being used.
func (s *AnalysisService) GetModel() string {
	return s.model
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Findings is the structured output of a document or board analysis pass.
type Findings struct {
	Entities       []FindingEntity `json:"entities"`
	Connections    []FindingConn   `json:"connections"`
	TimelineEvents []FindingEvent  `json:"timeline_events"`
	Alibis         []FindingAlibi  `json:"alibis"`
}

// FindingEntity is a person, location, organization, or vehicle the model found.
type FindingEntity struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Suspect    bool     `json:"suspect"`
	Aliases    []string `json:"aliases"`
	Confidence float64  `json:"confidence"`
}

// FindingConn relates two entities by name.
type FindingConn struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

// FindingEvent is a datable occurrence. OccurredAt is RFC3339 or empty when
// the source only gives a vague date; DateText keeps the source wording.
type FindingEvent struct {
	Description string  `json:"description"`
	DateText    string  `json:"date_text"`
	OccurredAt  string  `json:"occurred_at"`
	Confidence  float64 `json:"confidence"`
}

// FindingAlibi is a claimed whereabouts for a person during a window.
type FindingAlibi struct {
	Person      string  `json:"person"`
	Claim       string  `json:"claim"`
	Status      string  `json:"status"`
	WindowStart string  `json:"window_start"`
	WindowEnd   string  `json:"window_end"`
	Confidence  float64 `json:"confidence"`
}

// DocumentText pairs a document's display name with its extracted text for
// board population.
type DocumentText struct {
	FileName string
	Text     string
}

// AnalyzeDocument runs single-document analysis over extracted text.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - text: extracted document text.
//
// Returns:
//   - *Findings: parsed structured findings.
//   - error: non-nil if the API request fails or the response is not valid JSON.
func (s *AnalysisService) AnalyzeDocument(ctx context.Context, text string) (*Findings, error) {
	content, err := s.complete(ctx, prompts.AnalysisSystemPrompt, prompts.AnalysisUserPrompt+text)
	if err != nil {
		return nil, err
	}
	return ParseFindings(content)
}

// PopulateBoard runs cross-document analysis over all extracted text in a case.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - docs: extracted text per document, in upload order.
//
// Returns:
//   - *Findings: parsed structured findings spanning the whole case.
//   - error: non-nil if the API request fails or the response is not valid JSON.
func (s *AnalysisService) PopulateBoard(ctx context.Context, docs []DocumentText) (*Findings, error) {
	var sb strings.Builder
	sb.WriteString(prompts.BoardUserPrompt)
	for _, doc := range docs {
		sb.WriteString("\n--- ")
		sb.WriteString(doc.FileName)
		sb.WriteString(" ---\n")
		sb.WriteString(doc.Text)
		sb.WriteString("\n")
	}

	content, err := s.complete(ctx, prompts.BoardSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	return ParseFindings(content)
}

func (s *AnalysisService) complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: 4096,
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return "", fmt.Errorf("failed to call analysis API: %w", err)
	}

	// Check HTTP status code
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return "", fmt.Errorf("analysis API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("analysis API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from analysis API (status: %d)", httpResp.StatusCode())
	}

	return resp.Choices[0].Message.Content, nil
}

// ParseFindings decodes a model response into Findings. Models sometimes wrap
// JSON in markdown code fences despite instructions, so fences are stripped
// before decoding. Invalid entity types are dropped, unknown alibi statuses
// fall back to unverified, and confidences are clamped to [0, 1].
func ParseFindings(content string) (*Findings, error) {
	raw := stripCodeFences(content)

	var f Findings
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("failed to parse findings JSON: %w", err)
	}

	entities := f.Entities[:0]
	for _, e := range f.Entities {
		if e.Name == "" || !validEntityType(e.Type) {
			continue
		}
		e.Confidence = clampConfidence(e.Confidence)
		entities = append(entities, e)
	}
	f.Entities = entities

	for i := range f.Connections {
		f.Connections[i].Confidence = clampConfidence(f.Connections[i].Confidence)
	}
	for i := range f.TimelineEvents {
		f.TimelineEvents[i].Confidence = clampConfidence(f.TimelineEvents[i].Confidence)
	}
	for i := range f.Alibis {
		if !validAlibiStatus(f.Alibis[i].Status) {
			f.Alibis[i].Status = string(domain.AlibiStatusUnverified)
		}
		f.Alibis[i].Confidence = clampConfidence(f.Alibis[i].Confidence)
	}

	return &f, nil
}

// BoardRows holds findings shaped into persistable board records.
type BoardRows struct {
	Entities       []domain.Entity
	Connections    []domain.Connection
	TimelineEvents []domain.TimelineEvent
	Alibis         []domain.Alibi
}

// ShapeFindings converts findings into board rows for a case. Connections and
// alibis that reference a name absent from the findings' entity list are
// dropped rather than persisted with dangling references.
// Parameters:
//   - caseID: owning case.
//   - sourceDocID: document the findings came from; empty for board population.
//   - f: parsed findings.
//
// Returns:
//   - *BoardRows: rows ready for batch insert.
func ShapeFindings(caseID, sourceDocID string, f *Findings) *BoardRows {
	rows := &BoardRows{}
	now := time.Now()

	// Map entity names (and aliases) to generated IDs so connections and
	// alibis can reference them.
	idByName := make(map[string]string, len(f.Entities))
	for _, fe := range f.Entities {
		entity := domain.Entity{
			ID:          uuid.New().String(),
			CaseID:      caseID,
			Type:        domain.EntityType(fe.Type),
			Name:        fe.Name,
			Suspect:     fe.Suspect,
			Confidence:  fe.Confidence,
			Aliases:     domain.StringArray(fe.Aliases),
			SourceDocID: sourceDocID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		rows.Entities = append(rows.Entities, entity)
		idByName[strings.ToLower(fe.Name)] = entity.ID
		for _, alias := range fe.Aliases {
			if _, taken := idByName[strings.ToLower(alias)]; !taken {
				idByName[strings.ToLower(alias)] = entity.ID
			}
		}
	}

	for _, fc := range f.Connections {
		fromID, okFrom := idByName[strings.ToLower(fc.From)]
		toID, okTo := idByName[strings.ToLower(fc.To)]
		if !okFrom || !okTo || fromID == toID {
			continue
		}
		rows.Connections = append(rows.Connections, domain.Connection{
			ID:          uuid.New().String(),
			CaseID:      caseID,
			FromEntity:  fromID,
			ToEntity:    toID,
			Relation:    fc.Relation,
			Confidence:  fc.Confidence,
			SourceDocID: sourceDocID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	for _, fe := range f.TimelineEvents {
		if fe.Description == "" {
			continue
		}
		rows.TimelineEvents = append(rows.TimelineEvents, domain.TimelineEvent{
			ID:          uuid.New().String(),
			CaseID:      caseID,
			OccurredAt:  parseTimePtr(fe.OccurredAt),
			DateText:    fe.DateText,
			Title:       eventTitle(fe.Description),
			Description: fe.Description,
			Confidence:  fe.Confidence,
			SourceDocID: sourceDocID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	for _, fa := range f.Alibis {
		entityID, ok := idByName[strings.ToLower(fa.Person)]
		if !ok || fa.Claim == "" {
			continue
		}
		rows.Alibis = append(rows.Alibis, domain.Alibi{
			ID:          uuid.New().String(),
			CaseID:      caseID,
			EntityID:    entityID,
			Claim:       fa.Claim,
			WindowStart: parseTimePtr(fa.WindowStart),
			WindowEnd:   parseTimePtr(fa.WindowEnd),
			Status:      domain.AlibiStatus(fa.Status),
			SourceDocID: sourceDocID,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	return rows
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop a language tag like "json" on the opening fence.
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func validEntityType(t string) bool {
	switch domain.EntityType(t) {
	case domain.EntityTypePerson, domain.EntityTypeLocation,
		domain.EntityTypeOrganization, domain.EntityTypeVehicle:
		return true
	}
	return false
}

func validAlibiStatus(s string) bool {
	switch domain.AlibiStatus(s) {
	case domain.AlibiStatusUnverified, domain.AlibiStatusCorroborated,
		domain.AlibiStatusContradicted:
		return true
	}
	return false
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// eventTitle derives a short title from an event description.
func eventTitle(description string) string {
	const maxTitle = 80
	title := description
	if idx := strings.IndexAny(title, ".\n"); idx > 0 {
		title = title[:idx]
	}
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return strings.TrimSpace(title)
}
