package gmail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"gorm.io/datatypes"

	"github.com/vipul43/tendwell-worker/internal/models"
	"github.com/vipul43/tendwell-worker/internal/oauth"
	"github.com/vipul43/tendwell-worker/internal/service"
)

// Client lists and fetches Gmail messages for the ingestion pipeline.
type Client struct {
	config *oauth2.Config
	opts   []option.ClientOption
}

// NewClient builds a client refreshing tokens through config. Extra options are
// passed to the Gmail service, e.g. option.WithEndpoint.
func NewClient(config *oauth2.Config, opts ...option.ClientOption) *Client {
	return &Client{
		config: config,
		opts:   opts,
	}
}

var _ service.ProviderClient = (*Client)(nil)

// ListIDs fetches only message IDs from Gmail API (lightweight, fast)
func (c *Client) ListIDs(ctx context.Context, token *oauth2.Token, query string, pageToken string, maxResults int) (*service.IDPage, *oauth2.Token, error) {
	src := oauth.NewTrackingSource(ctx, c.config, token)
	gmailService, err := c.newService(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	listCall := gmailService.Users.Messages.List("me").Q(query).MaxResults(int64(maxResults)).Context(ctx)
	if pageToken != "" {
		listCall = listCall.PageToken(pageToken)
	}

	listResp, err := listCall.Do()
	if err != nil {
		return nil, src.Rotated(), fmt.Errorf("failed to list messages: %w", err)
	}

	messageIDs := make([]string, 0, len(listResp.Messages))
	for _, msg := range listResp.Messages {
		messageIDs = append(messageIDs, msg.Id)
	}

	return &service.IDPage{
		IDs:           messageIDs,
		NextPageToken: listResp.NextPageToken,
	}, src.Rotated(), nil
}

// FetchItem fetches a single message by its Gmail message ID
func (c *Client) FetchItem(ctx context.Context, token *oauth2.Token, messageID string) (*models.RawEvent, *oauth2.Token, error) {
	src := oauth.NewTrackingSource(ctx, c.config, token)
	gmailService, err := c.newService(ctx, src)
	if err != nil {
		return nil, nil, err
	}

	fullMsg, err := gmailService.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, src.Rotated(), fmt.Errorf("failed to get message: %w", err)
	}

	event, err := toRawEvent(fullMsg)
	if err != nil {
		return nil, src.Rotated(), fmt.Errorf("failed to parse message: %w", err)
	}
	return event, src.Rotated(), nil
}

func (c *Client) newService(ctx context.Context, src *oauth.TrackingSource) (*gmail.Service, error) {
	opts := append([]option.ClientOption{option.WithHTTPClient(src.Client(ctx))}, c.opts...)
	gmailService, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return gmailService, nil
}

// toRawEvent keeps the full message as the payload and lifts the fields
// downstream consumers filter on into source meta.
func toRawEvent(msg *gmail.Message) (*models.RawEvent, error) {
	payload, err := msg.MarshalJSON()
	if err != nil {
		return nil, err
	}

	meta := models.JSONB{
		"threadId": msg.ThreadId,
		"labels":   msg.LabelIds,
		"snippet":  msg.Snippet,
	}

	var occurredAt time.Time
	if msg.InternalDate > 0 {
		occurredAt = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "Subject":
				meta["subject"] = header.Value
			case "From":
				meta["from"] = header.Value
			case "To":
				meta["to"] = header.Value
			case "Date":
				if !occurredAt.IsZero() {
					continue
				}
				if parsed, err := parseEmailDate(header.Value); err == nil {
					occurredAt = parsed.UTC()
				}
			}
		}

		if attachments := extractAttachments(msg.Payload); len(attachments) > 0 {
			meta["attachments"] = attachments
		}
	}

	return &models.RawEvent{
		SourceID:   msg.Id,
		Payload:    datatypes.JSON(payload),
		OccurredAt: occurredAt,
		SourceMeta: meta,
	}, nil
}

// extractAttachments extracts attachment metadata from message payload
func extractAttachments(payload *gmail.MessagePart) []map[string]interface{} {
	attachments := []map[string]interface{}{}
	extractAttachmentsFromParts(payload.Parts, &attachments)
	return attachments
}

// extractAttachmentsFromParts recursively extracts attachment info from parts
func extractAttachmentsFromParts(parts []*gmail.MessagePart, attachments *[]map[string]interface{}) {
	for _, part := range parts {
		if part.Filename != "" && part.Body != nil {
			attachment := map[string]interface{}{
				"filename": part.Filename,
				"mimeType": part.MimeType,
				"size":     part.Body.Size,
			}
			if part.Body.AttachmentId != "" {
				attachment["attachmentId"] = part.Body.AttachmentId
			}
			*attachments = append(*attachments, attachment)
		}

		if len(part.Parts) > 0 {
			extractAttachmentsFromParts(part.Parts, attachments)
		}
	}
}

// parseEmailDate parses various email date formats
func parseEmailDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	dateStr = strings.TrimSpace(dateStr)

	// Gmail sometimes appends the zone name in parentheses, e.g. "(UTC)"
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
