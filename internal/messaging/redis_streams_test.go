package messaging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a Redis client for testing. Set REDIS_TEST_ADDR to
// point at a reachable Redis; otherwise defaults to localhost and skips the
// test if nothing is listening there.
func setupTestClient(t *testing.T) *RedisClient {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := NewRedisClient(RedisConfig{Addr: addr})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisClient_Connection(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))
}

func TestRedisClient_PublishAndSubscribe(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	stream := "test:gateway:" + t.Name()
	group := "test-group"
	consumer := "test-consumer"

	msgChan, err := client.Subscribe(ctx, stream, group, consumer)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	msgID, err := client.Publish(ctx, stream, map[string]interface{}{
		"request_id": "req-1",
		"num":        42,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	select {
	case msg := <-msgChan:
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, stream, msg.Stream)
		assert.Equal(t, "req-1", msg.Values["request_id"])
		assert.Equal(t, "42", msg.Values["num"])
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestConversationAnnouncement_RoundTrip(t *testing.T) {
	ann := NewConversationAnnouncement("gateway-1", PriorityHigh, "req-1", "conv-1", "sess-1")

	values := ann.ToRedisValues()
	assert.Equal(t, "gateway-1", values["instance"])
	assert.Equal(t, "high", values["priority"])

	got, err := ConversationAnnouncementFromRedisValues(values)
	require.NoError(t, err)
	assert.Equal(t, ann.ID, got.ID)
	assert.Equal(t, ann.Instance, got.Instance)
	assert.Equal(t, ann.Priority, got.Priority)
	assert.Equal(t, ann.RequestID, got.RequestID)
	assert.Equal(t, ann.ConversationID, got.ConversationID)
	assert.Equal(t, ann.SessionID, got.SessionID)
	assert.Equal(t, ann.Created, got.Created)
}

func TestStreamName(t *testing.T) {
	tests := []struct {
		priority string
		expected string
	}{
		{PriorityCritical, StreamQueueCritical},
		{PriorityHigh, StreamQueueHigh},
		{PriorityNormal, StreamQueueNormal},
		{PriorityLow, StreamQueueLow},
		{"unknown", StreamQueueNormal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, StreamName(tt.priority))
	}
}

func TestPriorityProcessor_DeliversCriticalFirst(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	instance := "test-instance-" + t.Name()

	anns := []ConversationAnnouncement{
		NewConversationAnnouncement(instance, PriorityLow, "req-low", "conv-1", "sess-1"),
		NewConversationAnnouncement(instance, PriorityCritical, "req-crit", "conv-2", "sess-2"),
		NewConversationAnnouncement(instance, PriorityNormal, "req-normal", "conv-3", "sess-3"),
		NewConversationAnnouncement(instance, PriorityHigh, "req-high", "conv-4", "sess-4"),
	}

	for _, ann := range anns {
		_, err := client.Publish(ctx, StreamName(ann.Priority), ann.ToRedisValues())
		require.NoError(t, err)
	}

	processor := NewPriorityProcessor(client, instance)
	annChan := processor.Start(ctx)

	select {
	case ann := <-annChan:
		assert.Equal(t, "req-crit", ann.RequestID)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for critical announcement")
	}
}

func TestHeartbeatManager_SendHeartbeat(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	instance := "test-instance-" + t.Name()

	hbMgr := NewHeartbeatManager(client, instance)

	err := hbMgr.SendHeartbeat(ctx, "healthy", map[string]interface{}{
		"active_sessions": 3,
	})
	require.NoError(t, err)
}

func TestDeadLetterQueue_SendToDeadLetter(t *testing.T) {
	client := setupTestClient(t)
	defer client.Close()

	dlq := NewDeadLetterQueue(client)
	ctx := context.Background()

	ann := NewConversationAnnouncement("gateway-1", PriorityHigh, "req-failed", "conv-failed", "sess-failed")

	err := dlq.SendToDeadLetter(ctx, ann, "upstream exhausted retries", 3)
	require.NoError(t, err)
}
