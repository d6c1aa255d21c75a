package discord

import (
	"context"
	"errors"
)

// PageSize is the largest page the message list endpoint returns.
const PageSize = 100

// MessageLister is the single endpoint a Pager walks.
type MessageLister interface {
	Messages(ctx context.Context, channelID, before string, limit int) ([]Message, error)
}

// Pager is a forward-only, newest-first iterator over a channel's history. It pages with a
// "before" cursor and stops after the first short page or the first failed page. A Pager is
// not rewindable; resume by constructing a new one with the last seen id as cursor.
//
//	p := discord.NewPager(client, channelID, "", discord.PageSize)
//	for p.Next(ctx) {
//		m := p.Message()
//	}
//	if err := p.Err(); err != nil { ... }
type Pager struct {
	lister    MessageLister
	channelID string
	limit     int

	cursor string
	page   []Message
	pos    int
	cur    Message
	done   bool
	err    error
}

// NewPager starts below cursor; an empty cursor starts at the newest message.
func NewPager(lister MessageLister, channelID, cursor string, limit int) *Pager {
	if limit <= 0 || limit > PageSize {
		limit = PageSize
	}
	return &Pager{lister: lister, channelID: channelID, cursor: cursor, limit: limit}
}

// Next advances to the next message, fetching a new page when the current one is drained.
func (p *Pager) Next(ctx context.Context) bool {
	if p.err != nil {
		return false
	}
	if p.pos >= len(p.page) {
		if p.done {
			return false
		}
		if !p.fetch(ctx) {
			return false
		}
	}
	p.cur = p.page[p.pos]
	p.pos++
	p.cursor = p.cur.ID
	return true
}

func (p *Pager) fetch(ctx context.Context) bool {
	page, err := p.lister.Messages(ctx, p.channelID, p.cursor, p.limit)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Op: "list messages", Err: err}
		}
		p.err = err
		return false
	}
	p.page, p.pos = page, 0
	if len(page) < p.limit {
		p.done = true
	}
	return len(page) > 0
}

// Message is the current message; valid after Next returned true.
func (p *Pager) Message() Message {
	return p.cur
}

// Err is the page failure that ended iteration, if any. It is always a *FetchError.
func (p *Pager) Err() error {
	return p.err
}

// Cursor is the id of the last message handed out, or the starting cursor.
func (p *Pager) Cursor() string {
	return p.cursor
}
