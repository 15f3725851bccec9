package messaging

import (
	"context"
	"log"
	"time"
)

// PriorityProcessor consumes conversation announcements from the
// priority-ordered queue streams, delivering critical before high before
// normal before low.
type PriorityProcessor struct {
	client       *RedisClient
	instanceName string
	groupName    string
}

// NewPriorityProcessor creates a new priority processor for a gateway
// instance.
func NewPriorityProcessor(client *RedisClient, instanceName string) *PriorityProcessor {
	return &PriorityProcessor{
		client:       client,
		instanceName: instanceName,
		groupName:    ConsumerGroupInstances,
	}
}

// Start begins processing announcements and returns a channel of them.
func (p *PriorityProcessor) Start(ctx context.Context) <-chan *ConversationAnnouncement {
	output := make(chan *ConversationAnnouncement, 100)

	priorities := []string{
		PriorityCritical,
		PriorityHigh,
		PriorityNormal,
		PriorityLow,
	}

	channels := make(map[string]<-chan Message)
	for _, priority := range priorities {
		stream := StreamName(priority)

		msgChan, err := p.client.Subscribe(ctx, stream, p.groupName, p.instanceName)
		if err != nil {
			log.Printf("Failed to subscribe to %s: %v", stream, err)
			continue
		}
		channels[priority] = msgChan
		log.Printf("Subscribed to stream %s as consumer %s", stream, p.instanceName)
	}

	go p.processLoop(ctx, channels, output, priorities)

	return output
}

// processLoop continuously checks priority streams and forwards
// announcements, always draining a higher-priority stream before a lower
// one.
func (p *PriorityProcessor) processLoop(ctx context.Context, channels map[string]<-chan Message, output chan<- *ConversationAnnouncement, priorities []string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Priority processor shutting down for instance %s", p.instanceName)
			return
		default:
			processed := false

			for _, priority := range priorities {
				ch := channels[priority]
				if ch == nil {
					continue
				}

				select {
				case msg, ok := <-ch:
					if !ok {
						channels[priority] = nil
						continue
					}

					ann, err := ConversationAnnouncementFromRedisValues(msg.Values)
					if err != nil {
						log.Printf("Failed to parse announcement: %v", err)
						continue
					}

					output <- ann
					processed = true
					log.Printf("Received %s priority announcement %s from %s", priority, ann.ID, ann.Instance)

				default:
					continue
				}

				if processed {
					break
				}
			}

			if !processed {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}
