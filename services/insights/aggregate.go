package insights

import (
	"sort"
	"time"

	"github.com/vidaleve/companion/services/insights/supabase"
)

// FeatureUsageRow aggregates one event type over the reporting window.
type FeatureUsageRow struct {
	EventName   string `json:"eventName"`
	Count       int    `json:"count"`
	UniqueUsers int    `json:"uniqueUsers"`
}

// ProductViewsRow aggregates view and checkout-click activity for one
// product over the reporting window.
type ProductViewsRow struct {
	ProductID   string `json:"productId"`
	Views       int    `json:"views"`
	Clicks      int    `json:"clicks"`
	UniqueUsers int    `json:"uniqueUsers"`
}

// Summary holds the window-wide totals plus the all-time distinct
// user count.
type Summary struct {
	TotalEvents  int `json:"totalEvents"`
	UniqueUsers  int `json:"uniqueUsers"`
	AllTimeUsers int `json:"allTimeUsers"`
}

// groupDailyActive counts distinct identified users per UTC calendar day.
// It mirrors the get_daily_active_users stored procedure and serves as the
// application-side fallback when the procedure is not installed.
func groupDailyActive(events []supabase.Event) []supabase.DailyActiveRow {
	byDay := make(map[string]map[string]bool)
	for _, e := range events {
		if e.UserEmail == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, e.CreatedAt)
		if err != nil {
			continue
		}
		day := ts.UTC().Format("2006-01-02")
		if byDay[day] == nil {
			byDay[day] = make(map[string]bool)
		}
		byDay[day][e.UserEmail] = true
	}

	rows := make([]supabase.DailyActiveRow, 0, len(byDay))
	for day, users := range byDay {
		rows = append(rows, supabase.DailyActiveRow{Date: day, ActiveUsers: len(users)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

// groupFeatureUsage counts events and distinct users per event type,
// most used first.
func groupFeatureUsage(events []supabase.Event) []FeatureUsageRow {
	counts := make(map[string]int)
	users := make(map[string]map[string]bool)
	for _, e := range events {
		counts[e.EventName]++
		if e.UserEmail == "" {
			continue
		}
		if users[e.EventName] == nil {
			users[e.EventName] = make(map[string]bool)
		}
		users[e.EventName][e.UserEmail] = true
	}

	rows := make([]FeatureUsageRow, 0, len(counts))
	for name, count := range counts {
		rows = append(rows, FeatureUsageRow{
			EventName:   name,
			Count:       count,
			UniqueUsers: len(users[name]),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].EventName < rows[j].EventName
	})
	return rows
}

// groupProductViews counts product_view and checkout_click events per
// product, most viewed first.
func groupProductViews(events []supabase.Event) []ProductViewsRow {
	type acc struct {
		views  int
		clicks int
		users  map[string]bool
	}
	byProduct := make(map[string]*acc)
	for _, e := range events {
		if e.ProductID == "" {
			continue
		}
		if e.EventName != "product_view" && e.EventName != "checkout_click" {
			continue
		}
		a := byProduct[e.ProductID]
		if a == nil {
			a = &acc{users: make(map[string]bool)}
			byProduct[e.ProductID] = a
		}
		if e.EventName == "product_view" {
			a.views++
		} else {
			a.clicks++
		}
		if e.UserEmail != "" {
			a.users[e.UserEmail] = true
		}
	}

	rows := make([]ProductViewsRow, 0, len(byProduct))
	for id, a := range byProduct {
		rows = append(rows, ProductViewsRow{
			ProductID:   id,
			Views:       a.views,
			Clicks:      a.clicks,
			UniqueUsers: len(a.users),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Views != rows[j].Views {
			return rows[i].Views > rows[j].Views
		}
		return rows[i].ProductID < rows[j].ProductID
	})
	return rows
}

// summarize computes the window-wide totals.
func summarize(events []supabase.Event) Summary {
	users := make(map[string]bool)
	for _, e := range events {
		if e.UserEmail != "" {
			users[e.UserEmail] = true
		}
	}
	return Summary{TotalEvents: len(events), UniqueUsers: len(users)}
}
