package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/locallift/backend/internal/models"
)

const (
	insightNoActivity              = "no_activity"
	insightViewsSurge              = "views_surge"
	insightViewsDrop               = "views_drop"
	insightVisibilityWithoutIntent = "visibility_without_intent"
	insightIntentGrowth            = "intent_growth"
	insightIntentDecline           = "intent_decline"
	insightMessagesUp              = "messages_up"
	insightAboveBenchmark          = "above_benchmark"
	insightBelowBenchmark          = "below_benchmark"
	insightSteadyWeek              = "steady_week"
)

// viewsSwing is the week-over-week change in views, in percent, that
// counts as a surge or a drop.
const viewsSwing = 20.0

var intentKinds = []models.ClientMetric{models.ClientCalls, models.ClientDirectionRequests, models.ClientBookings}

type insight struct {
	key   string
	text  string
	kinds []models.ClientMetric
}

type metricSet map[models.ClientMetric]models.EngagementMetric

type insightRule struct {
	key   string
	match func(metricSet) (text string, kinds []models.ClientMetric, ok bool)
}

var insightRules = []insightRule{
	{insightNoActivity, func(m metricSet) (string, []models.ClientMetric, bool) {
		return "No engagement was recorded for this week.", nil, len(m) == 0
	}},
	{insightViewsSurge, func(m metricSet) (string, []models.ClientMetric, bool) {
		v, ok := m[models.ClientViews]
		if !ok {
			return "", nil, false
		}
		if v.ChangePercentage.New {
			return "Your profile started receiving views this week.", nil, true
		}
		if v.ChangePercentage.Value >= viewsSwing {
			return fmt.Sprintf("Profile views rose %.1f%% compared to last week.", v.ChangePercentage.Value), nil, true
		}
		return "", nil, false
	}},
	{insightViewsDrop, func(m metricSet) (string, []models.ClientMetric, bool) {
		v, ok := m[models.ClientViews]
		if !ok || v.ChangePercentage.New || v.ChangePercentage.Value > -viewsSwing {
			return "", nil, false
		}
		return fmt.Sprintf("Profile views fell %.1f%% compared to last week.", math.Abs(v.ChangePercentage.Value)), nil, true
	}},
	{insightVisibilityWithoutIntent, func(m metricSet) (string, []models.ClientMetric, bool) {
		views, okViews := m[models.ClientViews]
		calls, okCalls := m[models.ClientCalls]
		if !okViews || !okCalls || views.Trend != models.TrendUp || calls.Trend == models.TrendUp {
			return "", nil, false
		}
		return "More people viewed your profile but calls did not follow.", nil, true
	}},
	{insightIntentGrowth, func(m metricSet) (string, []models.ClientMetric, bool) {
		kinds := withTrend(m, intentKinds, models.TrendUp)
		return "Customer intent is growing: " + labels(kinds) + " up.", kinds, len(kinds) > 0
	}},
	{insightIntentDecline, func(m metricSet) (string, []models.ClientMetric, bool) {
		kinds := withTrend(m, intentKinds, models.TrendDown)
		return "Customer intent is slipping: " + labels(kinds) + " down.", kinds, len(kinds) > 0
	}},
	{insightMessagesUp, func(m metricSet) (string, []models.ClientMetric, bool) {
		msg, ok := m[models.ClientMessages]
		return "Customers sent you more messages than last week.", nil, ok && msg.Trend == models.TrendUp
	}},
	{insightAboveBenchmark, func(m metricSet) (string, []models.ClientMetric, bool) {
		kinds := withComparison(m, models.BenchmarkAbove)
		return "Above your category benchmark for " + labels(kinds) + ".", kinds, len(kinds) > 0
	}},
	{insightBelowBenchmark, func(m metricSet) (string, []models.ClientMetric, bool) {
		kinds := withComparison(m, models.BenchmarkBelow)
		return "Below your category benchmark for " + labels(kinds) + ".", kinds, len(kinds) > 0
	}},
	{insightSteadyWeek, func(m metricSet) (string, []models.ClientMetric, bool) {
		if len(m) == 0 {
			return "", nil, false
		}
		for _, metric := range m {
			if metric.Trend != models.TrendStable {
				return "", nil, false
			}
		}
		return "Engagement held steady across every tracked metric.", nil, true
	}},
}

func withTrend(m metricSet, kinds []models.ClientMetric, trend models.Trend) []models.ClientMetric {
	var out []models.ClientMetric
	for _, k := range kinds {
		if metric, ok := m[k]; ok && metric.Trend == trend {
			out = append(out, k)
		}
	}
	return out
}

func withComparison(m metricSet, cmp models.BenchmarkComparison) []models.ClientMetric {
	var out []models.ClientMetric
	for _, k := range models.ClientMetrics {
		if metric, ok := m[k]; ok && metric.BenchmarkComparison == cmp {
			out = append(out, k)
		}
	}
	return out
}

func labels(kinds []models.ClientMetric) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k.Label()
	}
	return strings.Join(parts, ", ")
}

// deriveInsights applies the rule table in order. Texts are unique.
func deriveInsights(metrics []models.EngagementMetric) []insight {
	set := make(metricSet, len(metrics))
	for _, m := range metrics {
		set[m.MetricKind] = m
	}
	var (
		out  []insight
		seen = map[string]bool{}
	)
	for _, rule := range insightRules {
		text, kinds, ok := rule.match(set)
		if !ok || seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, insight{key: rule.key, text: text, kinds: kinds})
	}
	return out
}

type recommendationRule struct {
	when func(map[string]insight) bool
	text string
}

func has(key string) func(map[string]insight) bool {
	return func(set map[string]insight) bool {
		_, ok := set[key]
		return ok
	}
}

var recommendationRules = []recommendationRule{
	{has(insightNoActivity), "Check that your listing is published and your business details are complete."},
	{func(set map[string]insight) bool {
		if _, ok := set[insightViewsDrop]; ok {
			return true
		}
		below, ok := set[insightBelowBenchmark]
		if !ok {
			return false
		}
		for _, k := range below.kinds {
			if k == models.ClientViews {
				return true
			}
		}
		return false
	}, "Schedule at least three posts for next week to rebuild visibility."},
	{has(insightVisibilityWithoutIntent), "Add a clear call to action and show your phone number prominently on your profile."},
	{has(insightIntentDecline), "Refresh your photos and opening hours so customers see current information."},
	{has(insightMessagesUp), "Reply to new messages within two hours to turn the extra interest into bookings."},
	{has(insightBelowBenchmark), "Compare your profile with the leaders in your region to find what they do differently."},
	{has(insightSteadyWeek), "Try a limited-time offer to give engagement a lift."},
	{func(set map[string]insight) bool {
		return has(insightViewsSurge)(set) || has(insightIntentGrowth)(set)
	}, "Keep your current posting cadence, it is working."},
}

func deriveRecommendations(insights []insight) []string {
	set := make(map[string]insight, len(insights))
	for _, in := range insights {
		set[in.key] = in
	}
	var (
		out  []string
		seen = map[string]bool{}
	)
	for _, rule := range recommendationRules {
		if !rule.when(set) || seen[rule.text] {
			continue
		}
		seen[rule.text] = true
		out = append(out, rule.text)
	}
	return out
}
