package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agritrace/internal/logger"
	"agritrace/internal/models"
	"agritrace/realtime"
)

func newTestHub() *realtime.Hub {
	return realtime.NewHub(logger.NewNop())
}

func delta(batchID string, typ models.EventType, seq uint64) *models.Delta {
	return &models.Delta{
		BatchID:        batchID,
		Type:           typ,
		Payload:        json.RawMessage(`{}`),
		LedgerSequence: seq,
	}
}

func receive(t *testing.T, s *realtime.Session) *models.Delta {
	t.Helper()
	select {
	case d, ok := <-s.C():
		require.True(t, ok, "session channel closed unexpectedly")
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delta")
		return nil
	}
}

func assertNothingQueued(t *testing.T, s *realtime.Session) {
	t.Helper()
	select {
	case d := <-s.C():
		t.Fatalf("unexpected delta for batch %s", d.BatchID)
	default:
	}
}

func TestHubDeliversOnlyToSubscribedTopic(t *testing.T) {
	h := newTestHub()
	watcher1 := realtime.NewSession("s1", 8)
	watcher2 := realtime.NewSession("s2", 8)
	h.Subscribe(watcher1, "B1")
	h.Subscribe(watcher2, "B2")

	require.NoError(t, h.Publish(context.Background(), delta("B1", models.EventCustodyTransferred, 3)))

	got := receive(t, watcher1)
	assert.Equal(t, "B1", got.BatchID)
	assert.Equal(t, uint64(3), got.LedgerSequence)
	assertNothingQueued(t, watcher2)
}

func TestHubPublishWithoutSubscribersIsNoop(t *testing.T) {
	h := newTestHub()
	require.NoError(t, h.Publish(context.Background(), delta("B1", models.EventBatchCreated, 1)))
	assert.Equal(t, 0, h.Subscribers("B1"))
}

func TestHubDuplicateSubscribeDeliversOnce(t *testing.T) {
	h := newTestHub()
	s := realtime.NewSession("s1", 8)
	h.Subscribe(s, "B1")
	h.Subscribe(s, "B1")

	require.NoError(t, h.Publish(context.Background(), delta("B1", models.EventPriceUpdated, 2)))

	receive(t, s)
	assertNothingQueued(t, s)
	assert.Equal(t, 1, h.Subscribers("B1"))
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := newTestHub()
	s := realtime.NewSession("s1", 8)
	h.Subscribe(s, "B1")
	h.Unsubscribe(s, "B1")

	require.NoError(t, h.Publish(context.Background(), delta("B1", models.EventQualityUpdated, 4)))

	assertNothingQueued(t, s)
	assert.Equal(t, 0, h.Subscribers("B1"))
}

func TestHubUnsubscribeUnknownTopic(t *testing.T) {
	h := newTestHub()
	s := realtime.NewSession("s1", 8)
	h.Unsubscribe(s, "never-subscribed")
	assert.Equal(t, 0, h.Subscribers("never-subscribed"))
}

func TestHubDropRemovesAllMembershipsAndClosesSession(t *testing.T) {
	h := newTestHub()
	s := realtime.NewSession("s1", 8)
	h.Subscribe(s, "B1")
	h.Subscribe(s, "B2")

	h.Drop(s)

	assert.Equal(t, 0, h.Subscribers("B1"))
	assert.Equal(t, 0, h.Subscribers("B2"))
	_, ok := <-s.C()
	assert.False(t, ok, "dropped session's channel must be closed")

	// A second drop is a no-op.
	h.Drop(s)
}

func TestHubSlowSessionDoesNotBlockPublish(t *testing.T) {
	h := newTestHub()
	slow := realtime.NewSession("slow", 1)
	fast := realtime.NewSession("fast", 8)
	h.Subscribe(slow, "B1")
	h.Subscribe(fast, "B1")

	ctx := context.Background()
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, h.Publish(ctx, delta("B1", models.EventPriceUpdated, seq)))
	}

	// The slow session keeps only what fit in its buffer.
	assert.Equal(t, uint64(1), receive(t, slow).LedgerSequence)
	assertNothingQueued(t, slow)

	// The healthy session got everything, in order.
	for seq := uint64(1); seq <= 3; seq++ {
		assert.Equal(t, seq, receive(t, fast).LedgerSequence)
	}
}

func TestHubSubscribeDuringLastUnsubscribe(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	// A subscribe racing the departing last member's empty-topic cleanup
	// must land in the live topic, not an orphaned membership set.
	for i := 0; i < 200; i++ {
		keeper := realtime.NewSession(fmt.Sprintf("keeper-%d", i), 4)
		leaver := realtime.NewSession(fmt.Sprintf("leaver-%d", i), 4)
		h.Subscribe(leaver, "B1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Subscribe(keeper, "B1")
		}()
		go func() {
			defer wg.Done()
			h.Unsubscribe(leaver, "B1")
		}()
		wg.Wait()

		require.Equal(t, 1, h.Subscribers("B1"))
		require.NoError(t, h.Publish(ctx, delta("B1", models.EventPriceUpdated, uint64(i+1))))
		got := receive(t, keeper)
		require.Equal(t, uint64(i+1), got.LedgerSequence)

		h.Drop(keeper)
		h.Drop(leaver)
	}
}

func TestHubPerSessionFIFO(t *testing.T) {
	h := newTestHub()
	s := realtime.NewSession("s1", 16)
	h.Subscribe(s, "B1")
	h.Subscribe(s, "B2")

	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, delta("B1", models.EventBatchCreated, 1)))
	require.NoError(t, h.Publish(ctx, delta("B2", models.EventBatchCreated, 2)))
	require.NoError(t, h.Publish(ctx, delta("B1", models.EventFinalized, 3)))

	assert.Equal(t, uint64(1), receive(t, s).LedgerSequence)
	assert.Equal(t, uint64(2), receive(t, s).LedgerSequence)
	assert.Equal(t, uint64(3), receive(t, s).LedgerSequence)
}
