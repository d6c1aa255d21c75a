package discord

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves ids n..1 newest first and fails on call failOn (1-based) when set.
type fakeLister struct {
	n       int
	failOn  int
	failErr error
	calls   int
	befores []string
}

func (f *fakeLister) Messages(_ context.Context, _ string, before string, limit int) ([]Message, error) {
	f.calls++
	f.befores = append(f.befores, before)
	if f.failOn == f.calls {
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, errors.New("connection reset")
	}
	start := f.n
	if before != "" {
		_, _ = fmt.Sscanf(before, "%d", &start)
		start--
	}
	var page []Message
	for id := start; id >= 1 && len(page) < limit; id-- {
		page = append(page, Message{ID: fmt.Sprint(id)})
	}
	return page, nil
}

func collect(t *testing.T, p *Pager) []string {
	t.Helper()
	var ids []string
	for p.Next(context.Background()) {
		ids = append(ids, p.Message().ID)
	}
	return ids
}

func TestPagerWalksNewestFirst(t *testing.T) {
	lister := &fakeLister{n: 7}
	p := NewPager(lister, "c1", "", 3)

	ids := collect(t, p)
	require.NoError(t, p.Err())
	assert.Equal(t, []string{"7", "6", "5", "4", "3", "2", "1"}, ids)
	assert.Equal(t, []string{"", "5", "2"}, lister.befores)
	assert.Equal(t, "1", p.Cursor())
}

func TestPagerExactMultipleNeedsEmptyPage(t *testing.T) {
	lister := &fakeLister{n: 6}
	p := NewPager(lister, "c1", "", 3)

	assert.Len(t, collect(t, p), 6)
	assert.Equal(t, 3, lister.calls)
}

func TestPagerResumesFromCursor(t *testing.T) {
	lister := &fakeLister{n: 10}
	p := NewPager(lister, "c1", "4", 100)

	assert.Equal(t, []string{"3", "2", "1"}, collect(t, p))
}

func TestPagerFailureEndsIteration(t *testing.T) {
	lister := &fakeLister{n: 10, failOn: 2}
	p := NewPager(lister, "c1", "", 3)

	ids := collect(t, p)
	assert.Equal(t, []string{"10", "9", "8"}, ids)

	var fe *FetchError
	require.True(t, errors.As(p.Err(), &fe))
	assert.Equal(t, "list messages", fe.Op)
	assert.False(t, p.Next(context.Background()), "pager must not resume after a failure")
	assert.Equal(t, 2, lister.calls)
}

func TestPagerKeepsWrappedFetchError(t *testing.T) {
	cause := &FetchError{Op: "list messages", Err: &APIError{Status: 403, Message: "Missing Access"}}
	wrapped := fmt.Errorf("channel c1: %w", cause)
	p := NewPager(&fakeLister{n: 5, failOn: 1, failErr: wrapped}, "c1", "", 3)

	assert.Empty(t, collect(t, p))
	assert.Same(t, wrapped, p.Err())

	var fe *FetchError
	require.True(t, errors.As(p.Err(), &fe))
	assert.Same(t, cause, fe)
	assert.Equal(t, "channel c1: list messages: platform returned HTTP 403: Missing Access (code 0)", p.Err().Error())
}

func TestPagerClampsLimit(t *testing.T) {
	p := NewPager(&fakeLister{}, "c1", "", 500)
	assert.Equal(t, PageSize, p.limit)
}
