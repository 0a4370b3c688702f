package service

import "context"

// BulkOutcome reports how a bulk write resolved.
type BulkOutcome struct {
	Written  int
	Skipped  int
	Failed   int
	Fallback bool  // the bulk call failed and items were written one by one
	BulkErr  error // the error that triggered the fallback
}

// BulkWithFallback writes items in one bulk call. If the bulk call fails, for example
// because a single bad row poisons the statement, each item is written individually
// so that the written and failed counts stay exact.
//
// bulk returns how many items it wrote; the remainder counts as skipped. single
// returns false without error for an item it deliberately skipped.
func BulkWithFallback[T any](
	ctx context.Context,
	items []T,
	bulk func(context.Context, []T) (int, error),
	single func(context.Context, T) (bool, error),
) BulkOutcome {
	if len(items) == 0 {
		return BulkOutcome{}
	}

	written, err := bulk(ctx, items)
	if err == nil {
		return BulkOutcome{Written: written, Skipped: len(items) - written}
	}

	outcome := BulkOutcome{Fallback: true, BulkErr: err}
	for _, item := range items {
		ok, err := single(ctx, item)
		switch {
		case err != nil:
			outcome.Failed++
		case ok:
			outcome.Written++
		default:
			outcome.Skipped++
		}
	}
	return outcome
}
