package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attesto/pkg/platform/audit"
)

func TestChannelPublisherDelivers(t *testing.T) {
	p := NewChannel(4, nil)

	require.NoError(t, p.Publish(context.Background(), audit.Event{Action: audit.ActionChallengeIssued}))

	select {
	case event := <-p.Events():
		assert.Equal(t, audit.ActionChallengeIssued, event.Action)
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestChannelPublisherDropsWhenFull(t *testing.T) {
	p := NewChannel(1, nil)

	require.NoError(t, p.Publish(context.Background(), audit.Event{Action: "first"}))
	require.NoError(t, p.Publish(context.Background(), audit.Event{Action: "second"}), "a full buffer must not fail the caller")

	event := <-p.Events()
	assert.Equal(t, "first", event.Action)

	select {
	case extra := <-p.Events():
		t.Fatalf("expected the second event to be dropped, got %q", extra.Action)
	default:
	}
}
