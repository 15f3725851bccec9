package messaging

import (
	"context"
	"log"
	"time"
)

// HeartbeatManager sends a periodic liveness beacon for one gateway instance
// onto the shared heartbeat stream.
type HeartbeatManager struct {
	client       *RedisClient
	instanceName string
	stopCh       chan struct{}
}

// NewHeartbeatManager creates a new heartbeat manager
func NewHeartbeatManager(client *RedisClient, instanceName string) *HeartbeatManager {
	return &HeartbeatManager{
		client:       client,
		instanceName: instanceName,
		stopCh:       make(chan struct{}),
	}
}

// StartHeartbeatLoop starts sending periodic heartbeats
func (h *HeartbeatManager) StartHeartbeatLoop(ctx context.Context, interval time.Duration, status string, metadata map[string]interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.SendHeartbeat(ctx, status, metadata)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Heartbeat loop stopping for instance %s", h.instanceName)
			return
		case <-h.stopCh:
			log.Printf("Heartbeat loop stopped for instance %s", h.instanceName)
			return
		case <-ticker.C:
			if err := h.SendHeartbeat(ctx, status, metadata); err != nil {
				log.Printf("Failed to send heartbeat: %v", err)
			}
		}
	}
}

// Stop stops the heartbeat loop
func (h *HeartbeatManager) Stop() {
	close(h.stopCh)
}

// SendHeartbeat sends a single heartbeat to Redis
func (h *HeartbeatManager) SendHeartbeat(ctx context.Context, status string, metadata map[string]interface{}) error {
	hb := HeartbeatMessage{
		Instance:  h.instanceName,
		Status:    status,
		Timestamp: time.Now().Unix(),
		Metadata:  metadata,
	}

	_, err := h.client.Publish(ctx, HeartbeatStreamName(), hb.ToRedisValues())
	return err
}
