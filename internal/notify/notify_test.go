package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Send(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

type panicSink struct{}

func (panicSink) Name() string { return "panic" }

func (panicSink) Send(context.Context, Event) error { panic("boom") }

func TestDispatcherFansOutAndSwallowsFailures(t *testing.T) {
	ok := &captureSink{}
	failing := &captureSink{err: errors.New("downstream unavailable")}
	d := NewDispatcher(time.Second, ok, failing, panicSink{})

	d.Publish(Event{Kind: KindTicketHeld, Message: "held"}, Event{Kind: KindTicketSold})
	d.Wait()

	assert.Len(t, ok.events, 2)
	assert.Len(t, failing.events, 2)
	assert.False(t, ok.events[0].OccurredAt.IsZero())
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Publish(Event{Kind: KindTicketSold})
	d.Wait()
}

func TestHTTPHookFiltersKindsAndPosts(t *testing.T) {
	var hits atomic.Int32
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook := NewHTTPHook("chat", srv.URL, time.Second, ChatKinds...)
	ticketID := uuid.New()

	require.NoError(t, hook.Send(context.Background(), Event{Kind: KindDepositCompleted}))
	assert.Equal(t, int32(0), hits.Load())

	require.NoError(t, hook.Send(context.Background(), Event{Kind: KindTicketHeld, TicketID: &ticketID}))
	assert.Equal(t, int32(1), hits.Load())
	require.NotNil(t, got.TicketID)
	assert.Equal(t, ticketID, *got.TicketID)
}

func TestHTTPHookReportsClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	hook := NewHTTPHook("push", srv.URL, time.Second)
	err := hook.Send(context.Background(), Event{Kind: KindTicketSold})
	assert.Error(t, err)
}

func TestInvalidationKeys(t *testing.T) {
	ticketID := uuid.New()
	user := uuid.New()
	keys := InvalidationKeys(Event{TicketID: &ticketID, UserIDs: []uuid.UUID{user, user}})
	assert.Equal(t, []string{
		"cache:listing:" + ticketID.String(),
		"cache:profile:" + user.String(),
	}, keys)

	assert.Empty(t, InvalidationKeys(Event{}))
}
