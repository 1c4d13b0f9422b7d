package insight

import (
	"strings"
	"testing"

	"crm-insight-service/internal/analytics"
)

func TestFallback_Topics(t *testing.T) {
	snap := analytics.DefaultSnapshot()
	tests := []struct {
		question string
		kind     ContentKind
		contains []string
	}{
		{"What's our conversion rate?", ContentInsight, []string{
			"Conversion Rate Analysis",
			"**11.3%** (135 registrations out of 1200 leads)",
			"• Contacted: 900 (75.0% conversion from previous step)",
			"• Leads Captured: 1200 (100% conversion",
		}},
		{"Which PROPERTY is doing well", ContentInsight, []string{
			"**Best Performing Property:** Olive Heights",
			"1. Olive Heights: 98 leads",
			"2. Sapphire Greens: 60 leads",
			"Average leads per property: 66",
			"Olive Heights (21.4%)",
		}},
		{"show the best performing project", ContentInsight, []string{"Property Performance Analysis"}},
		{"top lead source?", ContentInsight, []string{
			"1. Website: 35% (35 leads)",
			"Diversification score: 5 different sources",
			"Invest more in Website marketing",
		}},
		{"monthly numbers", ContentInsight, []string{
			"Total leads: 1370",
			"Average monthly leads: 228",
			"Growth rate: 113.3% (increase)",
			"📈 Above average performance",
			"🚀 Positive growth trajectory",
			"• Jun: 320 leads",
		}},
		{"hello there", ContentText, []string{"Here are some questions you can ask"}},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			content, kind := Fallback(tt.question, snap)
			if kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, kind)
			}
			for _, want := range tt.contains {
				if !strings.Contains(content, want) {
					t.Errorf("expected %q in:\n%s", want, content)
				}
			}
		})
	}
}

func TestFallback_SourcesUnsortedInput(t *testing.T) {
	snap := analytics.Snapshot{LeadSources: []analytics.SourceShare{
		{Name: "Walk-in", Value: 10},
		{Name: "Referral", Value: 60},
		{Name: "Website", Value: 30},
	}}
	content, _ := Fallback("lead sources", snap)
	for _, want := range []string{
		"1. Referral: 60%",
		"Most effective: Referral (60%)",
		"Invest more in Referral marketing",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q in:\n%s", want, content)
		}
	}
}

func TestFallback_OrderPrefersConversion(t *testing.T) {
	// "rate" matches before "property".
	content, _ := Fallback("property conversion rate", analytics.DefaultSnapshot())
	if !strings.HasPrefix(content, "📊 **Conversion Rate Analysis**") {
		t.Errorf("expected conversion topic first, got %q", content[:40])
	}
}

func TestFallback_DecliningTrend(t *testing.T) {
	snap := analytics.Snapshot{Monthly: []analytics.MonthlyLeads{
		{Name: "Jan", Leads: 200},
		{Name: "Feb", Leads: 150},
		{Name: "Mar", Leads: 100},
	}}
	content, _ := Fallback("trend", snap)
	for _, want := range []string{"-50.0% (decrease)", "⚠️ Declining trend detected", "📉 Below average", "Focus on lead generation"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q in:\n%s", want, content)
		}
	}
}

func TestFallback_EmptySnapshotTopicsDegradeToHelp(t *testing.T) {
	for _, q := range []string{"property", "source", "trend"} {
		if _, kind := Fallback(q, analytics.Snapshot{}); kind != ContentText {
			t.Errorf("%s: expected help text on empty snapshot, got %s", q, kind)
		}
	}
}
