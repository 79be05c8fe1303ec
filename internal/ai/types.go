package ai

import (
	"context"
	"time"
)

// Roles used in chat history turns.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one message of a seeded chat history.
type Turn struct {
	Role string
	Text string
}

// InlineImage is an image attached to a single-turn request.
type InlineImage struct {
	Data     string // base64 (std encoding)
	MIMEType string
}

// Request represents one generation call.
//
// With Image set the call is a single-turn multi-part request (image, then Prompt).
// Without it the call is chat-style: History is replayed before Prompt is sent.
type Request struct {
	Model   string
	History []Turn
	Prompt  string
	Image   *InlineImage
	Timeout time.Duration
}

type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client interface for generative providers.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}
