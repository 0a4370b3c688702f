package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
	"gorm.io/datatypes"

	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/service"
)

const primaryCalendar = "primary"

// Client lists and fetches events of the user's primary Google Calendar.
type Client struct {
	config *oauth2.Config
	opts   []option.ClientOption
}

// NewClient builds a client refreshing tokens through config.
func NewClient(config *oauth2.Config, opts ...option.ClientOption) *Client {
	return &Client{
		config: config,
		opts:   opts,
	}
}

var _ service.ProviderClient = (*Client)(nil)

// ListIDs lists event IDs starting at timeMin, an RFC3339 timestamp. Recurring
// events are expanded into their instances.
func (c *Client) ListIDs(ctx context.Context, token *oauth2.Token, timeMin string, pageToken string, maxResults int) (*service.IDPage, *oauth2.Token, error) {
	src := oauth.NewTrackingSource(ctx, c.config, token)
	calendarService, err := c.newService(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	listCall := calendarService.Events.List(primaryCalendar).
		TimeMin(timeMin).
		SingleEvents(true).
		MaxResults(int64(maxResults)).
		Fields("items(id)", "nextPageToken").
		Context(ctx)
	if pageToken != "" {
		listCall = listCall.PageToken(pageToken)
	}

	events, err := listCall.Do()
	if err != nil {
		return nil, src.Rotated(), fmt.Errorf("failed to list events: %w", err)
	}

	ids := make([]string, 0, len(events.Items))
	for _, event := range events.Items {
		ids = append(ids, event.Id)
	}

	return &service.IDPage{
		IDs:           ids,
		NextPageToken: events.NextPageToken,
	}, src.Rotated(), nil
}

// FetchItem fetches a single event by id.
func (c *Client) FetchItem(ctx context.Context, token *oauth2.Token, eventID string) (*models.RawEvent, *oauth2.Token, error) {
	src := oauth.NewTrackingSource(ctx, c.config, token)
	calendarService, err := c.newService(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	event, err := calendarService.Events.Get(primaryCalendar, eventID).Context(ctx).Do()
	if err != nil {
		return nil, src.Rotated(), fmt.Errorf("failed to get event: %w", err)
	}

	raw, err := toRawEvent(event)
	if err != nil {
		return nil, src.Rotated(), fmt.Errorf("failed to parse event: %w", err)
	}
	return raw, src.Rotated(), nil
}

func (c *Client) newService(ctx context.Context, src *oauth.TrackingSource) (*calendar.Service, error) {
	opts := append([]option.ClientOption{option.WithHTTPClient(src.Client(ctx))}, c.opts...)
	calendarService, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return calendarService, nil
}

// toRawEvent stores the event as is. An event without a parseable start leaves
// OccurredAt zero and one without an end omits "end"; both make the row
// non-ingestible.
func toRawEvent(event *calendar.Event) (*models.RawEvent, error) {
	payload, err := event.MarshalJSON()
	if err != nil {
		return nil, err
	}

	meta := models.JSONB{
		"summary":   event.Summary,
		"status":    event.Status,
		"attendees": len(event.Attendees),
	}
	if end, ok := eventTime(event.End); ok {
		meta["end"] = end.Format(time.RFC3339)
	}
	if event.End != nil && event.End.Date != "" {
		meta["allDay"] = true
	}

	occurredAt, _ := eventTime(event.Start)

	return &models.RawEvent{
		SourceID:   event.Id,
		Payload:    datatypes.JSON(payload),
		OccurredAt: occurredAt,
		SourceMeta: meta,
	}, nil
}

// eventTime reads a timed (dateTime) or all-day (date) boundary as UTC.
func eventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	if dt.Date != "" {
		t, err := time.Parse(time.DateOnly, dt.Date)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
