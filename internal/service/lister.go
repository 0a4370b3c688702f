package service

import (
	"context"
	"log/slog"

	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/ratelimit"
)

const DefaultMaxItems = 10000

// ListResult is the candidate ID set of a run.
type ListResult struct {
	IDs       []string
	Pages     int
	Truncated bool // MaxItems reached before the provider ran out of pages
}

// RemoteLister pages through a provider's list endpoint.
type RemoteLister struct {
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	MaxItems int
}

func NewRemoteLister(limiter *ratelimit.Limiter, maxItems int, logger *slog.Logger) *RemoteLister {
	return &RemoteLister{
		limiter:  limiter,
		logger:   logger,
		MaxItems: orDefault(maxItems, DefaultMaxItems),
	}
}

// ListIDs collects every candidate ID for query. Each page goes through the limiter,
// which retries transient failures; a page that still fails aborts the listing.
func (l *RemoteLister) ListIDs(ctx context.Context, src Source, session *oauth.Session, query string) (*ListResult, error) {
	result := &ListResult{}
	seen := make(map[string]struct{})
	pageToken := ""

	for {
		var page *IDPage
		err := l.limiter.Do(ctx, func(ctx context.Context) error {
			p, rotated, err := src.Client.ListIDs(ctx, session.Token(), query, pageToken, src.PageSize)
			session.Observe(rotated)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, &ListingError{Query: query, Page: result.Pages + 1, Err: err}
		}
		result.Pages++

		for _, id := range page.IDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result.IDs = append(result.IDs, id)
			if len(result.IDs) >= l.MaxItems {
				result.Truncated = true
				break
			}
		}

		l.logger.Debug("listed page",
			"provider", src.Provider, "page", result.Pages, "ids", len(page.IDs), "has_more", page.NextPageToken != "")

		if result.Truncated || page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if result.Truncated {
		l.logger.Warn("listing truncated at max items",
			"provider", src.Provider, "max_items", l.MaxItems)
	}
	return result, nil
}
