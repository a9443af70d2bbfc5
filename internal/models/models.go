package models

import (
	"time"
)

type RegionStatsSnapshot struct {
	RegionID          string    `json:"region_id"`
	PeriodStart       time.Time `json:"period_start"`
	TotalClients      int       `json:"total_clients"`
	ActiveClients     int       `json:"active_clients"`
	AverageEngagement float64   `json:"average_engagement"`
	TotalRevenue      float64   `json:"total_revenue"`
	YoYGrowth         float64   `json:"yoy_growth"`
	CapturedAt        time.Time `json:"captured_at"`
}

// SameValues reports whether two snapshots carry identical measurements.
// CapturedAt is ignored so a collector may re-stamp a retried payload.
func (s RegionStatsSnapshot) SameValues(o RegionStatsSnapshot) bool {
	return s.RegionID == o.RegionID &&
		s.PeriodStart.Equal(o.PeriodStart) &&
		s.TotalClients == o.TotalClients &&
		s.ActiveClients == o.ActiveClients &&
		s.AverageEngagement == o.AverageEngagement &&
		s.TotalRevenue == o.TotalRevenue &&
		s.YoYGrowth == o.YoYGrowth
}

// RegionScore is a region's derived score for one region metric kind.
type RegionScore struct {
	RegionID      string
	Score         float64
	ActiveClients int
}

type LeaderboardEntry struct {
	MetricKind   RegionMetric `json:"-"`
	PeriodStart  time.Time    `json:"-"`
	Rank         int          `json:"rank"`
	RegionID     string       `json:"region_id"`
	Score        float64      `json:"score"`
	PreviousRank *int         `json:"previous_rank"`
	Trend        Trend        `json:"trend"`
}

type Leaderboard struct {
	MetricKind  RegionMetric       `json:"metric_kind"`
	PeriodStart time.Time          `json:"period_start"`
	Entries     []LeaderboardEntry `json:"entries"`
}

type ClientMetricSample struct {
	ClientID    string       `json:"client_id"`
	MetricKind  ClientMetric `json:"metric_kind"`
	PeriodStart time.Time    `json:"period_start"`
	Value       float64      `json:"value"`
	Benchmark   *float64     `json:"benchmark,omitempty"`
}

func (s ClientMetricSample) SameValues(o ClientMetricSample) bool {
	if s.ClientID != o.ClientID || s.MetricKind != o.MetricKind || !s.PeriodStart.Equal(o.PeriodStart) || s.Value != o.Value {
		return false
	}
	if s.Benchmark == nil || o.Benchmark == nil {
		return s.Benchmark == nil && o.Benchmark == nil
	}
	return *s.Benchmark == *o.Benchmark
}

type EngagementMetric struct {
	MetricKind          ClientMetric        `json:"metric_kind"`
	CurrentValue        float64             `json:"current_value"`
	PreviousValue       float64             `json:"previous_value"`
	ChangePercentage    ChangePercent       `json:"change_percentage"`
	Trend               Trend               `json:"trend"`
	Benchmark           *float64            `json:"benchmark,omitempty"`
	BenchmarkComparison BenchmarkComparison `json:"benchmark_comparison"`
}

type DeliveryFailure struct {
	Method   DeliveryMethod `json:"method"`
	Week     ISOWeek        `json:"slot_week"`
	Reason   string         `json:"reason"`
	FailedAt time.Time      `json:"failed_at"`
}

type WeeklyReport struct {
	ID               string             `json:"report_id"`
	ClientID         string             `json:"client_id"`
	WeekNumber       int                `json:"week_number"`
	Year             int                `json:"year"`
	PeriodStart      time.Time          `json:"period_start"`
	ReportDate       time.Time          `json:"report_date"`
	Status           ReportStatus       `json:"status"`
	Metrics          []EngagementMetric `json:"metrics"`
	Insights         []string           `json:"insights"`
	Recommendations  []string           `json:"recommendations"`
	DeliveryFailures []DeliveryFailure  `json:"delivery_failures"`
	DeliveredAt      *time.Time         `json:"delivered_at"`
	ViewedAt         *time.Time         `json:"viewed_at"`
	CreatedAt        time.Time          `json:"created_at"`
}

func (r WeeklyReport) Week() ISOWeek {
	return ISOWeek{Year: r.Year, Week: r.WeekNumber}
}

type ReportDeliveryPreference struct {
	ID           string         `json:"id"`
	ClientID     string         `json:"client_id"`
	Method       DeliveryMethod `json:"delivery_method"`
	DeliveryDay  Weekday        `json:"delivery_day"`
	DeliveryTime string         `json:"delivery_time"`
	Timezone     string         `json:"timezone"`
	Recipients   []string       `json:"recipients"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Watermark records the most recent delivered slot for a (client, method).
type Watermark struct {
	ClientID    string         `json:"client_id"`
	Method      DeliveryMethod `json:"delivery_method"`
	Week        ISOWeek        `json:"week"`
	ReportID    string         `json:"report_id"`
	DeliveredAt time.Time      `json:"delivered_at"`
}

type InboxItem struct {
	ClientID  string    `json:"client_id"`
	ReportID  string    `json:"report_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is a successful send to be recorded atomically with the
// watermark advance. Expected is the watermark week observed before the
// send; nil means no watermark existed.
type Delivery struct {
	ReportID string
	ClientID string
	Method   DeliveryMethod
	Week     ISOWeek
	Expected *ISOWeek
	At       time.Time
}
