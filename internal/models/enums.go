package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/locallift/backend/internal/apperr"
)

// RegionMetric is a region-scoped leaderboard metric kind.
type RegionMetric string

const (
	RegionRevenue    RegionMetric = "revenue"
	RegionGrowth     RegionMetric = "growth"
	RegionEngagement RegionMetric = "engagement"
	RegionCompliance RegionMetric = "compliance"
)

var RegionMetrics = []RegionMetric{RegionRevenue, RegionGrowth, RegionEngagement, RegionCompliance}

func ParseRegionMetric(s string) (RegionMetric, error) {
	k := RegionMetric(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case RegionRevenue, RegionGrowth, RegionEngagement, RegionCompliance:
		return k, nil
	}
	return "", apperr.Validation("unknown region metric kind %q", s)
}

// Score derives the region's score for kind from a snapshot.
func (k RegionMetric) Score(s RegionStatsSnapshot) float64 {
	switch k {
	case RegionRevenue:
		return s.TotalRevenue
	case RegionGrowth:
		return s.YoYGrowth
	case RegionEngagement:
		return s.AverageEngagement
	case RegionCompliance:
		return float64(s.ActiveClients) / float64(max(s.TotalClients, 1))
	}
	panic(fmt.Sprintf("models: unhandled region metric %q", string(k)))
}

// ClientMetric is a client-scoped engagement metric kind. It is unrelated
// to RegionMetric.
type ClientMetric string

const (
	ClientViews             ClientMetric = "views"
	ClientClicks            ClientMetric = "clicks"
	ClientCalls             ClientMetric = "calls"
	ClientDirectionRequests ClientMetric = "direction_requests"
	ClientMessages          ClientMetric = "messages"
	ClientBookings          ClientMetric = "bookings"
)

// ClientMetrics lists client kinds in report order.
var ClientMetrics = []ClientMetric{ClientViews, ClientClicks, ClientCalls, ClientDirectionRequests, ClientMessages, ClientBookings}

func ParseClientMetric(s string) (ClientMetric, error) {
	k := ClientMetric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ClientMetrics {
		if k == known {
			return k, nil
		}
	}
	return "", apperr.Validation("unknown client metric kind %q", s)
}

// CountLike reports whether values of the kind must be whole numbers.
func (k ClientMetric) CountLike() bool {
	switch k {
	case ClientViews, ClientClicks, ClientCalls, ClientDirectionRequests, ClientMessages, ClientBookings:
		return true
	}
	return false
}

func (k ClientMetric) Label() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

type BenchmarkComparison string

const (
	BenchmarkAbove   BenchmarkComparison = "above"
	BenchmarkBelow   BenchmarkComparison = "below"
	BenchmarkEqual   BenchmarkComparison = "equal"
	BenchmarkUnknown BenchmarkComparison = "unknown"
)

type ReportStatus string

const (
	StatusDraft     ReportStatus = "draft"
	StatusGenerated ReportStatus = "generated"
	StatusDelivered ReportStatus = "delivered"
	StatusViewed    ReportStatus = "viewed"
)

func (s ReportStatus) order() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusGenerated:
		return 1
	case StatusDelivered:
		return 2
	case StatusViewed:
		return 3
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next goes strictly forward.
func (s ReportStatus) CanAdvanceTo(next ReportStatus) bool {
	return s.order() >= 0 && next.order() > s.order()
}

// Published reports whether the report is visible to dashboards.
func (s ReportStatus) Published() bool {
	return s == StatusGenerated || s == StatusDelivered || s == StatusViewed
}

type DeliveryMethod string

const (
	DeliveryEmail     DeliveryMethod = "email"
	DeliverySMS       DeliveryMethod = "sms"
	DeliveryDashboard DeliveryMethod = "dashboard"
	DeliveryAPI       DeliveryMethod = "api"
)

func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	m := DeliveryMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case DeliveryEmail, DeliverySMS, DeliveryDashboard, DeliveryAPI:
		return m, nil
	}
	return "", apperr.Validation("unknown delivery method %q", s)
}

type Weekday string

var weekdays = map[Weekday]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

func ParseWeekday(s string) (Weekday, error) {
	d := Weekday(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := weekdays[d]; !ok {
		return "", apperr.Validation("unknown delivery day %q", s)
	}
	return d, nil
}

// OffsetFromMonday is the number of days between Monday and d.
func (d Weekday) OffsetFromMonday() int {
	wd, ok := weekdays[d]
	if !ok {
		return 0
	}
	return (int(wd) + 6) % 7
}

// ParseClock parses a local "HH:MM" delivery time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, apperr.Validation("delivery_time %q must be HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
