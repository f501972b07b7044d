package repositories

import (
	"context"

	"github.com/linguachat/backend/internal/models"
)

// Mutator changes a user in place. Returning an error aborts the write and the
// error is handed back to the caller unchanged.
type Mutator func(user *models.User) error

// UserRepository defines the data access contract for users.
//
// Update and UpdateByEmail are compare-and-write: the mutator always sees the
// latest stored copy and the result is written atomically. A mutator may run
// more than once when the store retries a contended write.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	Update(ctx context.Context, id string, mutate Mutator) (models.User, error)
	UpdateByEmail(ctx context.Context, email string, mutate Mutator) (models.User, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.User, error)
	// ListExcept returns users whose id is not in exclude, newest first.
	ListExcept(ctx context.Context, exclude []string, page models.Page) ([]models.User, error)
}
