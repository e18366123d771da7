package api

import (
	"context"
	"fmt"
)

// GetGatewayBot fetches the gateway URL and sharding metadata for the bot.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	var resp GatewayBot
	if err := c.get(ctx, "/gateway/bot", nil, &resp); err != nil {
		return nil, fmt.Errorf("get gateway bot: %w", err)
	}
	if resp.URL == "" {
		return nil, fmt.Errorf("get gateway bot: response has no url")
	}
	return &resp, nil
}
