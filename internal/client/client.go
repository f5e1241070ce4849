// Package client talks to a running eventpoll server over its HTTP control
// surface and WebSocket subscriber endpoint.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/poller"
	"github.com/alfredjeanlab/eventpoll/internal/presence"
)

// PollerClient is the interface the CLI commands use to drive a server.
type PollerClient interface {
	Trigger(ctx context.Context) error
	Reset(ctx context.Context) error
	Status(ctx context.Context) (*StatusResponse, error)
	Subscribers(ctx context.Context, staleThreshold time.Duration) (*SubscribersResponse, error)
	Health(ctx context.Context) (string, error)

	// Tail subscribes and calls fn with every broadcast until ctx is done
	// or the connection ends.
	Tail(ctx context.Context, pingEvery time.Duration, fn func(msg []byte) error) error

	Close() error
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Poller      poller.Status `json:"poller"`
	Subscribers int           `json:"subscribers"`
}

// SubscribersResponse is returned by GET /v1/subscribers.
type SubscribersResponse struct {
	Subscribers []presence.Entry `json:"subscribers"`
	Count       int              `json:"count"`
}
