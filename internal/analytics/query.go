package analytics

import (
	"context"
	"fmt"
	"math"
	"time"
)

// FunnelStages names the funnel in pipeline order. A lead's stage column is
// the index of the furthest stage it reached.
var FunnelStages = []string{
	"Leads Captured",
	"Contacted",
	"Attended Demo",
	"Site Visit Booked",
	"Token Issued",
	"Registered",
}

// monthWindow is how many trailing months the monthly series covers.
const monthWindow = 6

// rowScanner is the subset of pgx.Rows and *sql.Rows the loaders need.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// queryFunc runs a statement and returns its rows plus a release func.
type queryFunc func(ctx context.Context, query string) (rowScanner, func(), error)

// dialect carries the SQL that differs between database engines.
type dialect struct {
	name       string
	funnel     string
	monthly    string
	sources    string
	properties string
}

func loadSnapshot(ctx context.Context, d dialect, query queryFunc) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Funnel, err = loadFunnel(ctx, d, query); err != nil {
		return Snapshot{}, err
	}
	if snap.Monthly, err = loadMonthly(ctx, d, query); err != nil {
		return Snapshot{}, err
	}
	if snap.LeadSources, err = loadSources(ctx, d, query); err != nil {
		return Snapshot{}, err
	}
	if snap.Properties, err = loadProperties(ctx, d, query); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func loadFunnel(ctx context.Context, d dialect, query queryFunc) ([]Stage, error) {
	rows, release, err := query(ctx, d.funnel)
	if err != nil {
		return nil, fmt.Errorf("%s: query funnel: %w", d.name, err)
	}
	defer release()

	reached := make([]int, len(FunnelStages))
	for rows.Next() {
		var stage, count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("%s: scan funnel: %w", d.name, err)
		}
		stage = min(max(stage, 0), len(FunnelStages)-1)
		reached[stage] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: funnel rows: %w", d.name, err)
	}

	// A lead that reached stage n also passed every earlier stage.
	out := make([]Stage, len(FunnelStages))
	running := 0
	for i := len(FunnelStages) - 1; i >= 0; i-- {
		running += reached[i]
		out[i] = Stage{Name: FunnelStages[i], Value: running}
	}
	return out, nil
}

func loadMonthly(ctx context.Context, d dialect, query queryFunc) ([]MonthlyLeads, error) {
	rows, release, err := query(ctx, d.monthly)
	if err != nil {
		return nil, fmt.Errorf("%s: query monthly leads: %w", d.name, err)
	}
	defer release()

	var out []MonthlyLeads
	for rows.Next() {
		var month string
		var count int
		if err := rows.Scan(&month, &count); err != nil {
			return nil, fmt.Errorf("%s: scan monthly leads: %w", d.name, err)
		}
		out = append(out, MonthlyLeads{Name: monthLabel(month), Leads: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: monthly rows: %w", d.name, err)
	}
	if len(out) > monthWindow {
		out = out[len(out)-monthWindow:]
	}
	return out, nil
}

func loadSources(ctx context.Context, d dialect, query queryFunc) ([]SourceShare, error) {
	rows, release, err := query(ctx, d.sources)
	if err != nil {
		return nil, fmt.Errorf("%s: query lead sources: %w", d.name, err)
	}
	defer release()

	type sourceCount struct {
		name  string
		count int
	}
	var counts []sourceCount
	total := 0
	for rows.Next() {
		var sc sourceCount
		if err := rows.Scan(&sc.name, &sc.count); err != nil {
			return nil, fmt.Errorf("%s: scan lead sources: %w", d.name, err)
		}
		counts = append(counts, sc)
		total += sc.count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: lead source rows: %w", d.name, err)
	}

	out := make([]SourceShare, 0, len(counts))
	for _, sc := range counts {
		share := 0
		if total > 0 {
			share = int(math.Round(float64(sc.count) * 100 / float64(total)))
		}
		out = append(out, SourceShare{Name: sc.name, Value: share})
	}
	return out, nil
}

func loadProperties(ctx context.Context, d dialect, query queryFunc) ([]PropertyPerformance, error) {
	rows, release, err := query(ctx, d.properties)
	if err != nil {
		return nil, fmt.Errorf("%s: query properties: %w", d.name, err)
	}
	defer release()

	var out []PropertyPerformance
	for rows.Next() {
		var p PropertyPerformance
		if err := rows.Scan(&p.Name, &p.Leads, &p.SiteVisits, &p.Tokens); err != nil {
			return nil, fmt.Errorf("%s: scan properties: %w", d.name, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: property rows: %w", d.name, err)
	}
	return out, nil
}

// monthLabel turns "2025-03" into "Mar". Unparseable values pass through.
func monthLabel(yearMonth string) string {
	t, err := time.Parse("2006-01", yearMonth)
	if err != nil {
		return yearMonth
	}
	return t.Month().String()[:3]
}
