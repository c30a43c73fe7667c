package matching

import (
	"context"
	"errors"

	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/samber/lo"
)

// PickIcebreaker returns a stored opening prompt for one of the interests the pair shares, or ""
// when they share none or no prompt exists.
func PickIcebreaker(ctx context.Context, s storage.Storage, a, b *models.User) (string, error) {
	for _, interest := range lo.Shuffle(CommonInterests(a, b)) {
		ib, err := s.Icebreaker(ctx, interest)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		return ib.Prompt, nil
	}
	return "", nil
}
