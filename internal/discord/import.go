package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultImportMessages = 500
	MaxImportMessages     = 5000
)

// Transcript is a channel history flattened to plain text.
type Transcript struct {
	ChannelID string `json:"channel_id"`
	Count     int    `json:"count"`
	Text      string `json:"text"`
}

// ImportChannel walks the channel history backwards until maxMessages are
// collected or the channel runs out, then renders it oldest first.
func (c *Client) ImportChannel(ctx context.Context, channelID string, maxMessages int) (*Transcript, error) {
	if maxMessages < 1 || maxMessages > MaxImportMessages {
		return nil, fmt.Errorf("max_messages must be between 1 and %d", MaxImportMessages)
	}

	var (
		collected []Message
		before    string
	)
	for len(collected) < maxMessages {
		batch, err := c.Messages(ctx, channelID, maxPageSize, before)
		if err != nil {
			var rl *rateLimitError
			if errors.As(err, &rl) {
				c.log.Warn("Discord import rate limited", "channel_id", channelID, "sleep", rl.wait.String())
				if err := c.sleep(ctx, rl.wait); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		collected = append(collected, batch...)
		before = batch[len(batch)-1].ID
		if len(batch) < maxPageSize {
			break
		}
	}
	if len(collected) > maxMessages {
		collected = collected[:maxMessages]
	}
	slices.Reverse(collected)

	lines := make([]string, 0, len(collected))
	for _, m := range collected {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		author := m.Author.Username
		if author == "" {
			author = "unknown"
		}
		lines = append(lines, fmt.Sprintf("%s - %s: %s", m.Timestamp, author, content))
	}
	return &Transcript{
		ChannelID: channelID,
		Count:     len(collected),
		Text:      strings.Join(lines, "\n"),
	}, nil
}
