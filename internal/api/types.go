package api

import "time"

// SessionStartLimit is the server-imposed quota on starting gateway sessions.
type SessionStartLimit struct {
	Total          int `json:"total"`           // Session starts allowed per reset window
	Remaining      int `json:"remaining"`       // Session starts left in the current window
	ResetAfter     int `json:"reset_after"`     // Milliseconds until the window resets
	MaxConcurrency int `json:"max_concurrency"` // Identifies allowed per 5 seconds (bucket size)
}

// ResetAfterDuration returns ResetAfter as a time.Duration.
func (l SessionStartLimit) ResetAfterDuration() time.Duration {
	return time.Duration(l.ResetAfter) * time.Millisecond
}

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}
