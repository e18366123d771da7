// Package api provides the REST client for the chat platform's HTTP API.
//
// Only the metadata needed before opening gateway connections is fetched:
//
//	GET /gateway/bot  -> connect URL, recommended shard count, session start limit
//
// Base URL: https://discord.com/api/v10
//
// Every request is authenticated with "Authorization: Bot <token>". A 401
// response means the token is invalid and is reported as ErrUnauthorized.
package api
