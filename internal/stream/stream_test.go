package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	s := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	s.Publish(Event{Action: ActionCreated, Record: RecordMovement, Type: "Entrée"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			assert.Equal(t, ActionCreated, evt.Action)
			assert.NotEmpty(t, evt.ID)
			assert.False(t, evt.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	s.Publish(Event{RecordID: "1"})
	s.Publish(Event{RecordID: "2"})

	evt := <-ch
	assert.Equal(t, "1", evt.RecordID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	require.Equal(t, 1, s.Subscribers())
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Equal(t, 0, s.Subscribers())
}

func TestVisible(t *testing.T) {
	assert.True(t, Visible(Event{Service: "USLD"}, ""))
	assert.True(t, Visible(Event{Action: ActionArchived, Count: 4}, "USLD"))
	assert.False(t, Visible(Event{Action: ActionChecked, RecordID: "m1", Actor: "ide1"}, "USLD"))
	assert.True(t, Visible(Event{Action: ActionChecked, RecordID: "m1"}, ""))
	assert.True(t, Visible(Event{Service: "USLD"}, "USLD"))
	assert.False(t, Visible(Event{Service: "Médecine"}, "USLD"))

	var nilStream *Stream
	nilStream.Publish(Event{})
}
