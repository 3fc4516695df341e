package service

import (
	"strings"
	"testing"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxLen   int
		wantLen  int
		wantJoin string
	}{
		{
			name:    "empty text",
			text:    "   \n\n  ",
			maxLen:  100,
			wantLen: 0,
		},
		{
			name:     "single short paragraph",
			text:     "Witness saw a blue sedan.",
			maxLen:   100,
			wantLen:  1,
			wantJoin: "Witness saw a blue sedan.",
		},
		{
			name:    "paragraphs packed under limit",
			text:    "First statement.\n\nSecond statement.",
			maxLen:  100,
			wantLen: 1,
		},
		{
			name:    "paragraphs split when over limit",
			text:    "First statement.\n\nSecond statement.",
			maxLen:  20,
			wantLen: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkText(tt.text, tt.maxLen)
			if len(got) != tt.wantLen {
				t.Fatalf("chunks = %d, want %d (%q)", len(got), tt.wantLen, got)
			}
			if tt.wantJoin != "" && got[0] != tt.wantJoin {
				t.Errorf("chunk = %q, want %q", got[0], tt.wantJoin)
			}
		})
	}
}

func TestChunkTextLongParagraph(t *testing.T) {
	para := strings.Repeat("a", 250)
	chunks := chunkText(para, 100)

	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d length = %d, want <= 100", i, len(c))
		}
		total += len(c)
	}
	if total != 250 {
		t.Errorf("total chunked bytes = %d, want 250", total)
	}
}

func TestIsTextContent(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"text/plain", true},
		{"text/markdown", true},
		{"text/csv; charset=utf-8", true},
		{"application/json", true},
		{"image/png", false},
		{"application/pdf", false},
		{"application/octet-stream", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := isTextContent(tt.contentType); got != tt.want {
				t.Errorf("isTextContent(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}
