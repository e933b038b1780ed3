// Package subscribers stores which validator address each chat listens to.
package subscribers

import "context"

// Subscriber is a chat and the validator it follows. An empty Address means
// the chat has not registered one.
type Subscriber struct {
	ChatID  int64  `json:"chat_id"`
	Address string `json:"address"`
}

// Lister returns a snapshot of all subscribers. Callers may iterate the
// returned slice while the store is being written to.
type Lister interface {
	List(ctx context.Context) ([]Subscriber, error)
}

// Registry is the full read/write store used by the command interface.
type Registry interface {
	Lister
	Get(ctx context.Context, chatID int64) (Subscriber, bool, error)
	Set(ctx context.Context, chatID int64, address string) error
	Delete(ctx context.Context, chatID int64) error
	Close() error
}
