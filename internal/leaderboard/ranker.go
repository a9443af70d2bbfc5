package leaderboard

import (
	"math"
	"sort"

	"github.com/locallift/backend/internal/models"
)

// Rank orders scores into a leaderboard. Ties on score break on
// ActiveClients descending, then RegionID ascending, so the order is total.
// previous maps region ids to their rank in the prior period. Regions whose
// score is NaN or infinite are left out and returned in skipped.
func Rank(scores []models.RegionScore, previous map[string]int) (entries []models.LeaderboardEntry, skipped []string) {
	ranked := make([]models.RegionScore, 0, len(scores))
	for _, s := range scores {
		if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
			skipped = append(skipped, s.RegionID)
			continue
		}
		ranked = append(ranked, s)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ActiveClients != b.ActiveClients {
			return a.ActiveClients > b.ActiveClients
		}
		return a.RegionID < b.RegionID
	})

	entries = make([]models.LeaderboardEntry, 0, len(ranked))
	for i, s := range ranked {
		e := models.LeaderboardEntry{
			Rank:     i + 1,
			RegionID: s.RegionID,
			Score:    s.Score,
			Trend:    models.TrendStable,
		}
		if prev, ok := previous[s.RegionID]; ok {
			p := prev
			e.PreviousRank = &p
			switch {
			case e.Rank < prev:
				e.Trend = models.TrendUp
			case e.Rank > prev:
				e.Trend = models.TrendDown
			}
		}
		entries = append(entries, e)
	}
	sort.Strings(skipped)
	return entries, skipped
}
