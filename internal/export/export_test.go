package export

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"resolution-abc123", "resolution-abc123"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderReportHTML(t *testing.T) {
	progress := 40
	data := TemplateData{
		PublicID:      "pub-abc",
		MeetingNumber: 12,
		Clause:        "4",
		Subclause:     "2",
		Kind:          "operational",
		Status:        "in_progress",
		Body:          "Procure the new archive system.",
		Progress:      40,
		Creator:       "Avery",
		Executor:      "Rowan",
		Log: []LogEntry{
			{Kind: "action", ActionType: "ceo_approved", Author: "Morgan", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
			{Kind: "progress", Author: "Rowan", Body: "Vendor selected", Progress: &progress, CreatedAt: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)},
		},
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{
		"Meeting 12", "pub-abc", "Procure the new archive system.",
		"ceo_approved", "Vendor selected", "Progress: 40%", "Rowan",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if !strings.Contains(html, "Activity") {
		t.Error("HTML missing activity section")
	}
}

func TestRenderReportHTMLWithoutLog(t *testing.T) {
	html, err := RenderReportHTML(TemplateData{PublicID: "pub-abc", MeetingNumber: 1, Clause: "1"})
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}
	if strings.Contains(html, "Activity") {
		t.Error("empty log must not render an activity section")
	}
}
