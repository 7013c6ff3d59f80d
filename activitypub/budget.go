package activitypub

import "fmt"

// FetchBudget counts the remote fetches performed while handling one request.
// It is created per request and passed by pointer to every resolver.
type FetchBudget struct {
	used  int
	limit int
}

func NewFetchBudget(limit int) *FetchBudget {
	return &FetchBudget{limit: limit}
}

// Spend reserves one fetch. It fails once limit fetches were spent.
func (b *FetchBudget) Spend() error {
	if b.used >= b.limit {
		return fmt.Errorf("%w: %d of %d remote fetches used", ErrFetchLimitExceeded, b.used, b.limit)
	}
	b.used++
	return nil
}

func (b *FetchBudget) Used() int { return b.used }

func (b *FetchBudget) Remaining() int { return b.limit - b.used }
