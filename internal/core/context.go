package core

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Context correlates a state write or event with the call that caused it.
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// MarshalJSON renders empty parent and user ids as null.
func (c Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string  `json:"id"`
		ParentID *string `json:"parent_id"`
		UserID   *string `json:"user_id"`
	}{
		ID:       c.ID,
		ParentID: nullable(c.ParentID),
		UserID:   nullable(c.UserID),
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewContextID returns a fresh 32-character hex token.
func NewContextID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

type contextKey struct{}

// WithContext attaches c as the cause of whatever ctx is used for next.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the hub Context attached to ctx.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(contextKey{}).(Context)
	return c, ok
}

// NewContext mints a fresh Context whose parent is the one carried by ctx.
// The user id is inherited so a chain of writes keeps its originator.
func NewContext(ctx context.Context) Context {
	c := Context{ID: NewContextID()}
	if parent, ok := FromContext(ctx); ok {
		c.ParentID = parent.ID
		c.UserID = parent.UserID
	}
	return c
}

// WithUser marks ctx as acting on behalf of userID.
func WithUser(ctx context.Context, userID string) context.Context {
	c, _ := FromContext(ctx)
	if c.ID == "" {
		c.ID = NewContextID()
	}
	c.UserID = userID
	return WithContext(ctx, c)
}
