package fetchers

import (
	"context"

	"github.com/instapulse/instapulse/internal/models"
)

// Callback is invoked once per account as soon as that account's recent
// posts are available.
type Callback func(ctx context.Context, account *models.Account, posts []models.FetchedPost) error

// Fetcher is the contract every provider integration implements: produce the
// recent posts for each tracked account and hand them to the callback. A
// failure for one account must not abort the others; implementations return
// only after every account has been attempted.
type Fetcher interface {
	Name() string
	ProcessAccounts(ctx context.Context, accounts []*models.Account, onAccountReady Callback) error
}
