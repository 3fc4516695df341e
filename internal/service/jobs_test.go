package service

import (
	"fmt"
	"strings"
	"testing"
)

func TestSummarizeUnitErrors(t *testing.T) {
	short := []string{"a.txt: bad", "b.txt: worse"}
	if got := summarizeUnitErrors(short); got != "a.txt: bad; b.txt: worse" {
		t.Errorf("summarizeUnitErrors(short) = %q", got)
	}

	var many []string
	for i := 0; i < 12; i++ {
		many = append(many, fmt.Sprintf("doc%d.txt: failed", i))
	}
	got := summarizeUnitErrors(many)
	if !strings.HasSuffix(got, "and 7 more") {
		t.Errorf("summarizeUnitErrors(many) = %q, want trailing count", got)
	}
	if strings.Count(got, ";") != 5 {
		t.Errorf("summarizeUnitErrors(many) listed %d entries, want 5", strings.Count(got, ";"))
	}
}
