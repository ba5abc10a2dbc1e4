package source

import (
	"context"
	"fmt"
	"time"
)

// Cache memoizes folder listings of a Mailbox for the lifetime of one scan
// cycle, so that several reply-detection strategies and several tracked
// recipients share a single pass over each folder. A Cache must not be
// reused across cycles.
type Cache struct {
	Mailbox

	folders []*Folder
	items   map[string][]Message
}

// NewCache wraps mb with a per-cycle listing cache.
func NewCache(mb Mailbox) *Cache {
	return &Cache{
		Mailbox: mb,
		items:   make(map[string][]Message),
	}
}

// Folders returns the folder tree, loading it on first use.
func (c *Cache) Folders(ctx context.Context) ([]*Folder, error) {
	if c.folders != nil {
		return c.folders, nil
	}

	folders, err := c.Mailbox.Folders(ctx)
	if err != nil {
		return nil, err
	}
	if folders == nil {
		folders = []*Folder{}
	}
	c.folders = folders
	return folders, nil
}

// Items returns the folder listing, loading it on first use. Errors are
// not cached.
func (c *Cache) Items(
	ctx context.Context, folder *Folder, q ItemQuery,
) ([]Message, error) {
	key := fmt.Sprintf(
		"%s\x00%s\x00%t\x00%s",
		folder.Path, q.SortKey, q.Descending,
		q.Since.UTC().Format(time.RFC3339Nano),
	)
	if items, ok := c.items[key]; ok {
		return items, nil
	}

	items, err := c.Mailbox.Items(ctx, folder, q)
	if err != nil {
		return nil, err
	}
	c.items[key] = items
	return items, nil
}

// Conversation forwards to the wrapped mailbox when it can walk
// conversations.
func (c *Cache) Conversation(
	ctx context.Context, msg Message,
) ([]Message, error) {
	reader, ok := c.Mailbox.(ConversationReader)
	if !ok {
		return nil, nil
	}
	return reader.Conversation(ctx, msg)
}
