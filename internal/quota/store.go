package quota

import (
	"context"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/google/uuid"
)

// UpdateFunc computes a user's next state from the current one. exists is
// false when the user has no row yet. It must be pure: stores may call it
// more than once per Update.
type UpdateFunc func(current models.UserQuotaState, exists bool) (next models.UserQuotaState, write bool)

// Store persists quota states. Update is atomic per user.
type Store interface {
	Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (models.UserQuotaState, error)
	Get(ctx context.Context, userID uuid.UUID) (*models.UserQuotaState, error)
}
