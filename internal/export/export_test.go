package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/samer-khoury/mizan/models"
)

func sampleSession() *models.Session {
	return &models.Session{
		ID:        "s-1",
		UserID:    "u-1",
		Title:     "Tenancy dispute",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Messages: []models.Message{
			{Role: models.RoleModel, Content: "Hello, how can I help?", TS: 1000, Type: models.MessageStandard},
			{Role: models.RoleUser, Content: "My landlord kept the deposit.", TS: 2000, Type: models.MessageStandard},
			{
				Role: models.RoleModel, Content: "Deposit retention rules", TS: 3000,
				Type: models.MessageResearchBrief,
				ResearchData: &models.ResearchBundle{
					Issue: "Deposit retention rules",
					Forum: models.ForumOnshore,
					Points: []models.ResearchPoint{
						{Label: models.LabelVerified, Proposition: "Deposits must be returned absent damage.", Cite: "Law No. 26 of 2007"},
					},
					LastVerifiedOn: "2026-03-01",
				},
				Sources: []models.Source{{URI: "https://example.com/law", Title: "Tenancy Law"}},
			},
		},
	}
}

func TestNewExporterFormats(t *testing.T) {
	for _, format := range []string{"json", "md", "markdown", "yaml"} {
		if _, err := NewExporter(format); err != nil {
			t.Fatalf("NewExporter(%q): %v", format, err)
		}
	}
	if _, err := NewExporter("xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestJSONExportRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(sampleSession(), &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	var got models.Session
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "s-1" || len(got.Messages) != 3 {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if got.Messages[2].ResearchData == nil || got.Messages[2].ResearchData.Forum != models.ForumOnshore {
		t.Fatal("research bundle dropped in export")
	}
}

func TestMarkdownExport(t *testing.T) {
	var buf bytes.Buffer
	if err := (&MarkdownExporter{}).Export(sampleSession(), &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# Tenancy dispute",
		"**Client**",
		"**Assistant**",
		"My landlord kept the deposit.",
		"Research brief",
		"Law No. 26 of 2007",
		"[Tenancy Law](https://example.com/law)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestYAMLExport(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLExporter{}).Export(sampleSession(), &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "title: Tenancy dispute") {
		t.Fatalf("yaml missing title:\n%s", out)
	}
}
