package matching

import (
	"mapmo/backend/internal/config"
	"mapmo/backend/internal/models"

	"github.com/samber/lo"
)

// GenderCompatible reports whether both users accept each other's gender. Two users who have not
// stated any preference yet are compatible; otherwise an empty set accepts nobody.
func GenderCompatible(a, b *models.User) bool {
	if len(a.PreferredGenders) == 0 && len(b.PreferredGenders) == 0 {
		return true
	}
	return a.Accepts(b.Gender) && b.Accepts(a.Gender)
}

// CommonNeeds returns the needs both users share.
func CommonNeeds(a, b *models.User) []string {
	return lo.Intersect(lo.Uniq(a.Needs), lo.Uniq(b.Needs))
}

// CommonInterests returns the interests both users share.
func CommonInterests(a, b *models.User) []string {
	return lo.Intersect(lo.Uniq(a.Interests), lo.Uniq(b.Interests))
}

// Score rates how well two users fit. 0 means they cannot be matched. Shared needs weigh more
// than shared interests.
func Score(a, b *models.User) float64 {
	if !GenderCompatible(a, b) {
		return 0
	}
	return config.BaseScore +
		config.NeedsWeight*float64(len(CommonNeeds(a, b))) +
		config.InterestsWeight*float64(len(CommonInterests(a, b)))
}

// IsValidMatch reports whether score is high enough to pair on.
func IsValidMatch(score float64) bool {
	return score >= config.MinMatchScore
}
