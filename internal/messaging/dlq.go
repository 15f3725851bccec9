package messaging

import (
	"context"
	"strconv"
	"time"
)

// DeadLetterQueue fans permanently-failed conversations out to a shared
// stream for operator inspection.
type DeadLetterQueue struct {
	client *RedisClient
}

// NewDeadLetterQueue creates a new DLQ handler
func NewDeadLetterQueue(client *RedisClient) *DeadLetterQueue {
	return &DeadLetterQueue{client: client}
}

// SendToDeadLetter records a ConversationAnnouncement that exhausted its
// retry budget, alongside the failure reason and retry count.
func (d *DeadLetterQueue) SendToDeadLetter(ctx context.Context, ann ConversationAnnouncement, errorMsg string, retryCount int) error {
	values := ann.ToRedisValues()
	values["error"] = errorMsg
	values["retry_count"] = strconv.Itoa(retryCount)
	values["dead_at"] = strconv.FormatInt(time.Now().Unix(), 10)

	_, err := d.client.Publish(ctx, DeadLetterStreamName(), values)
	return err
}
