package events

import (
	"errors"
	"testing"
)

func TestBusDispatchesInOrder(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe(func(e Event) error {
		got = append(got, "first:"+string(e.Type))
		return errors.New("ignored")
	}, EventBanner, EventConflict)
	b.Subscribe(func(e Event) error {
		got = append(got, "second:"+string(e.Type))
		return nil
	}, EventBanner)

	b.Publish(Event{Type: EventBanner, MatchID: "m1"})
	b.Publish(Event{Type: EventConflict, MatchID: "m1"})
	b.Publish(Event{Type: EventSnapshot, MatchID: "m1"})

	want := []string{"first:duplicate_banner", "second:duplicate_banner", "first:conflict"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: EventSnapshot})
}
