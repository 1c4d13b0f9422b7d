// Package analytics holds the CRM performance snapshot that insight answers are
// grounded in, the numeric helpers derived from it and the sources that load it.
package analytics

import (
	"context"
	"math"
	"sort"
)

// Stage is one step of the lead conversion funnel.
type Stage struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// MonthlyLeads is the number of leads captured in one month.
type MonthlyLeads struct {
	Name  string `json:"name"`
	Leads int    `json:"leads"`
}

// SourceShare is a lead source and its share of all leads, in percent.
type SourceShare struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// PropertyPerformance aggregates the pipeline counts of a single property.
type PropertyPerformance struct {
	Name       string `json:"name"`
	Leads      int    `json:"leads"`
	SiteVisits int    `json:"siteVisits"`
	Tokens     int    `json:"tokens"`
}

// Snapshot is a read-only view of CRM performance. Field names on the wire
// match what the dashboard posts as analyticsData.
type Snapshot struct {
	Funnel      []Stage               `json:"funnelData"`
	Monthly     []MonthlyLeads        `json:"monthlyLeadData"`
	LeadSources []SourceShare         `json:"leadSourceData"`
	Properties  []PropertyPerformance `json:"propertyPerformanceData"`
}

// Source loads the current snapshot.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// IsZero reports whether the snapshot carries no data at all.
func (s Snapshot) IsZero() bool {
	return len(s.Funnel) == 0 && len(s.Monthly) == 0 && len(s.LeadSources) == 0 && len(s.Properties) == 0
}

// Clone returns a deep copy so callers can hand the snapshot across goroutines.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Funnel:      append([]Stage(nil), s.Funnel...),
		Monthly:     append([]MonthlyLeads(nil), s.Monthly...),
		LeadSources: append([]SourceShare(nil), s.LeadSources...),
		Properties:  append([]PropertyPerformance(nil), s.Properties...),
	}
}

// Round1 rounds to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return Round1(float64(part) * 100 / float64(whole))
}

// ConversionRate is the share of the first funnel stage that reached the last one.
func (s Snapshot) ConversionRate() float64 {
	if len(s.Funnel) == 0 {
		return 0
	}
	return percent(s.Funnel[len(s.Funnel)-1].Value, s.Funnel[0].Value)
}

// StageConversions returns, per funnel stage, the percentage carried over from
// the previous stage. The first stage is always 100.
func (s Snapshot) StageConversions() []float64 {
	out := make([]float64, len(s.Funnel))
	for i, st := range s.Funnel {
		if i == 0 {
			out[i] = 100
			continue
		}
		out[i] = percent(st.Value, s.Funnel[i-1].Value)
	}
	return out
}

// TotalMonthlyLeads sums the monthly series.
func (s Snapshot) TotalMonthlyLeads() int {
	total := 0
	for _, m := range s.Monthly {
		total += m.Leads
	}
	return total
}

// AverageMonthlyLeads is the rounded mean of the monthly series.
func (s Snapshot) AverageMonthlyLeads() int {
	if len(s.Monthly) == 0 {
		return 0
	}
	return int(math.Round(float64(s.TotalMonthlyLeads()) / float64(len(s.Monthly))))
}

// GrowthRate compares the last month with the first. A zero first month yields 0.
func (s Snapshot) GrowthRate() float64 {
	if len(s.Monthly) == 0 {
		return 0
	}
	first, last := s.Monthly[0].Leads, s.Monthly[len(s.Monthly)-1].Leads
	if first <= 0 {
		return 0
	}
	return Round1(float64(last-first) * 100 / float64(first))
}

// BestProperty returns the property with the most leads; ties keep the earliest.
func (s Snapshot) BestProperty() (PropertyPerformance, bool) {
	if len(s.Properties) == 0 {
		return PropertyPerformance{}, false
	}
	best := s.Properties[0]
	for _, p := range s.Properties[1:] {
		if p.Leads > best.Leads {
			best = p
		}
	}
	return best, true
}

// PropertiesByLeads returns the properties ordered by leads, most first.
func (s Snapshot) PropertiesByLeads() []PropertyPerformance {
	out := append([]PropertyPerformance(nil), s.Properties...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Leads > out[j].Leads })
	return out
}

// SourcesByShare returns lead sources ordered by share, largest first.
func (s Snapshot) SourcesByShare() []SourceShare {
	out := append([]SourceShare(nil), s.LeadSources...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// TokenRate is the token-to-lead percentage of a property.
func (p PropertyPerformance) TokenRate() float64 {
	return percent(p.Tokens, p.Leads)
}
