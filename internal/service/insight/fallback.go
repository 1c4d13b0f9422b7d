package insight

import (
	"fmt"
	"strings"

	"crm-insight-service/internal/analytics"
)

// ContentKind tells the chat how to render an answer.
type ContentKind string

const (
	ContentText    ContentKind = "text"
	ContentInsight ContentKind = "insight"
)

// HelpText lists the questions the local heuristics understand.
const HelpText = `I can help you analyze your analytics data! Here are some questions you can ask:

🎯 **Conversion Analysis:**
- "What's our conversion rate?"
- "Show me funnel performance"

🏢 **Property Insights:**
- "Which property is performing best?"
- "Show me property performance"

🎯 **Lead Sources:**
- "What are our top lead sources?"
- "Show me lead source distribution"

📈 **Trends:**
- "What's the monthly lead trend?"
- "Show me growth patterns"

Feel free to ask any of these questions or request specific insights!`

// Fallback answers from the snapshot alone by matching keywords in the
// lower-cased question. The first matching topic wins.
func Fallback(question string, snap analytics.Snapshot) (string, ContentKind) {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "conversion") || strings.Contains(q, "rate"):
		return conversionAnswer(snap), ContentInsight
	case strings.Contains(q, "property") || strings.Contains(q, "best performing"):
		if len(snap.Properties) > 0 {
			return propertyAnswer(snap), ContentInsight
		}
	case strings.Contains(q, "lead source") || strings.Contains(q, "source"):
		if len(snap.LeadSources) > 0 {
			return sourceAnswer(snap), ContentInsight
		}
	case strings.Contains(q, "monthly") || strings.Contains(q, "trend"):
		if len(snap.Monthly) > 0 {
			return trendAnswer(snap), ContentInsight
		}
	}
	return HelpText, ContentText
}

func conversionAnswer(snap analytics.Snapshot) string {
	first, last := 0, 0
	if n := len(snap.Funnel); n > 0 {
		first, last = snap.Funnel[0].Value, snap.Funnel[n-1].Value
	}

	var b strings.Builder
	b.WriteString("📊 **Conversion Rate Analysis**\n\n")
	fmt.Fprintf(&b, "Your overall conversion rate is **%.1f%%** (%d registrations out of %d leads).\n\n",
		snap.ConversionRate(), last, first)
	b.WriteString("**Funnel Breakdown:**\n")
	for i, pct := range snap.StageConversions() {
		st := snap.Funnel[i]
		share := fmt.Sprintf("%.1f", pct)
		if i == 0 {
			share = "100"
		}
		fmt.Fprintf(&b, "• %s: %d (%s%% conversion from previous step)\n", st.Name, st.Value, share)
	}
	b.WriteString("\n**Recommendations:**\n")
	b.WriteString("- Focus on improving the \"Contacted\" stage for better lead nurturing\n")
	b.WriteString("- Consider A/B testing your demo booking process\n")
	b.WriteString("- Analyze drop-off points to optimize conversion")
	return b.String()
}

func propertyAnswer(snap analytics.Snapshot) string {
	best, _ := snap.BestProperty()
	total := 0
	for _, p := range snap.Properties {
		total += p.Leads
	}
	avg := (total + len(snap.Properties)/2) / len(snap.Properties)

	var b strings.Builder
	b.WriteString("🏢 **Property Performance Analysis**\n\n")
	fmt.Fprintf(&b, "**Best Performing Property:** %s\n", best.Name)
	fmt.Fprintf(&b, "- Leads: %d\n- Site Visits: %d\n- Tokens: %d\n\n", best.Leads, best.SiteVisits, best.Tokens)
	b.WriteString("**All Properties Ranked by Leads:**\n")
	for i, p := range snap.PropertiesByLeads() {
		fmt.Fprintf(&b, "%d. %s: %d leads\n", i+1, p.Name, p.Leads)
	}
	b.WriteString("\n**Key Insights:**\n")
	fmt.Fprintf(&b, "- Average leads per property: %d\n", avg)
	fmt.Fprintf(&b, "- Best conversion rate: %s (%.1f%%)", best.Name, best.TokenRate())
	return b.String()
}

func sourceAnswer(snap analytics.Snapshot) string {
	total := 0
	for _, s := range snap.LeadSources {
		total += s.Value
	}
	// Ranked by share, not input order: posted data is not guaranteed sorted.
	top := snap.SourcesByShare()[0]

	var b strings.Builder
	b.WriteString("🎯 **Lead Source Analysis**\n\n")
	b.WriteString("**Top Performing Sources:**\n")
	for i, s := range snap.SourcesByShare() {
		fmt.Fprintf(&b, "%d. %s: %d%% (%d leads)\n", i+1, s.Name, s.Value, (s.Value*total+50)/100)
	}
	b.WriteString("\n**Distribution Insights:**\n")
	fmt.Fprintf(&b, "- Most effective: %s (%d%%)\n", top.Name, top.Value)
	fmt.Fprintf(&b, "- Diversification score: %d different sources\n\n", len(snap.LeadSources))
	b.WriteString("**Recommendations:**\n")
	fmt.Fprintf(&b, "- Invest more in %s marketing\n", top.Name)
	b.WriteString("- Explore underperforming sources for optimization\n")
	b.WriteString("- Consider A/B testing different source strategies")
	return b.String()
}

func trendAnswer(snap analytics.Snapshot) string {
	total := snap.TotalMonthlyLeads()
	avg := snap.AverageMonthlyLeads()
	growth := snap.GrowthRate()
	latest := snap.Monthly[len(snap.Monthly)-1].Leads

	direction := "increase"
	if growth < 0 {
		direction = "decrease"
	}

	var b strings.Builder
	b.WriteString("📈 **Monthly Lead Trend Analysis**\n\n")
	b.WriteString("**Overall Performance:**\n")
	fmt.Fprintf(&b, "- Total leads: %d\n- Average monthly leads: %d\n", total, avg)
	fmt.Fprintf(&b, "- Growth rate: %.1f%% (%s)\n\n", growth, direction)
	b.WriteString("**Monthly Breakdown:**\n")
	for _, m := range snap.Monthly {
		fmt.Fprintf(&b, "• %s: %d leads\n", m.Name, m.Leads)
	}
	b.WriteString("\n**Trend Insights:**\n")
	if latest > avg {
		b.WriteString("📈 Above average performance in recent month\n")
	} else {
		b.WriteString("📉 Below average performance in recent month\n")
	}
	if growth < 0 {
		b.WriteString("⚠️ Declining trend detected\n\n")
	} else {
		b.WriteString("🚀 Positive growth trajectory\n\n")
	}
	b.WriteString("**Recommendations:**\n")
	if latest < avg {
		b.WriteString("• Focus on lead generation strategies\n• Analyze seasonal factors")
	} else {
		b.WriteString("• Maintain current momentum\n• Scale successful campaigns")
	}
	return b.String()
}
