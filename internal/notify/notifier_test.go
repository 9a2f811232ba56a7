package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, []string{EventCycleFailed}, discard())

	require.NoError(t, n.Notify(context.Background(), EventRebalanceDone, "done", "msg"))
	require.NoError(t, n.Notify(context.Background(), EventCycleFailed, "failed", "msg"))

	assert.Equal(t, []string{"failed"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, nil, discard())

	require.NoError(t, n.Notify(context.Background(), EventPriceStale, "stale", "msg"))
	assert.Len(t, sender.titles, 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	require.NoError(t, n.NotifyAll(context.Background(), "title", "msg"))
}
