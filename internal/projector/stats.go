package projector

import (
	"time"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// DeriveStats recomputes moderator stats locally from the reconciled session
// set, for refreshing the dashboard between authoritative snapshots.
// Resolved-today counts closures since local midnight; the satisfaction rate
// is the thumbs-up share of rated sessions, rounded down, and 0 when nothing
// has been rated.
func DeriveStats(sessions []types.Session, now time.Time) types.ModeratorStats {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats := types.ModeratorStats{TotalSessions: len(sessions)}
	rated, thumbsUp := 0, 0
	for _, s := range sessions {
		if s.Status == types.StatusActive {
			stats.ActiveSessions++
		}
		if s.Status == types.StatusClosed && s.ClosedAt != nil && !s.ClosedAt.Before(midnight) {
			stats.ResolvedToday++
		}
		switch s.SatisfactionRating {
		case types.RatingThumbsUp:
			rated++
			thumbsUp++
		case types.RatingThumbsDown:
			rated++
		}
	}
	if rated > 0 {
		stats.SatisfactionRate = thumbsUp * 100 / rated
	}
	return stats
}
