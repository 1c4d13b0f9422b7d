package analytics

import "context"

// DefaultSnapshot is the dashboard's reference data, served when no database
// is configured.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Funnel: []Stage{
			{Name: "Leads Captured", Value: 1200},
			{Name: "Contacted", Value: 900},
			{Name: "Attended Demo", Value: 650},
			{Name: "Site Visit Booked", Value: 420},
			{Name: "Token Issued", Value: 210},
			{Name: "Registered", Value: 135},
		},
		Monthly: []MonthlyLeads{
			{Name: "Jan", Leads: 150},
			{Name: "Feb", Leads: 180},
			{Name: "Mar", Leads: 210},
			{Name: "Apr", Leads: 240},
			{Name: "May", Leads: 270},
			{Name: "Jun", Leads: 320},
		},
		LeadSources: []SourceShare{
			{Name: "Website", Value: 35},
			{Name: "Referral", Value: 25},
			{Name: "Property Portal", Value: 20},
			{Name: "Social Media", Value: 15},
			{Name: "Other", Value: 5},
		},
		Properties: []PropertyPerformance{
			{Name: "Olive Heights", Leads: 98, SiteVisits: 33, Tokens: 21},
			{Name: "Riveria Complex", Leads: 55, SiteVisits: 25, Tokens: 20},
			{Name: "Sapphire Greens", Leads: 60, SiteVisits: 39, Tokens: 30},
			{Name: "Royal Classic", Leads: 49, SiteVisits: 19, Tokens: 15},
		},
	}
}

// StaticSource always returns the same snapshot.
type StaticSource struct {
	snap Snapshot
}

// NewStaticSource wraps snap. A zero snapshot selects DefaultSnapshot.
func NewStaticSource(snap Snapshot) *StaticSource {
	if snap.IsZero() {
		snap = DefaultSnapshot()
	}
	return &StaticSource{snap: snap}
}

func (s *StaticSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return s.snap.Clone(), nil
}
