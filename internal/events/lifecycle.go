package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"promptlab/internal/registry"
)

// VariantChannel carries variant lifecycle events between instances.
const VariantChannel = "promptlab:variants:events"

// lifecycleMessage is the wire form of a lifecycle event.
type lifecycleMessage struct {
	InstanceID string                  `json:"instanceId"`
	Event      registry.LifecycleEvent `json:"event"`
}

// LifecycleHandler receives lifecycle events published by other instances.
type LifecycleHandler func(registry.LifecycleEvent)

// LifecycleBus broadcasts registry lifecycle transitions over Redis so
// sibling instances can react (refresh caches, reload snapshots). Messages
// published by this instance are skipped on receipt.
type LifecycleBus struct {
	redis      *RedisClient
	pubsub     *redis.PubSub
	instanceID string

	mu       sync.RWMutex
	handlers []LifecycleHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLifecycleBus creates a lifecycle bus for this instance.
func NewLifecycleBus(redisClient *RedisClient, instanceID string) *LifecycleBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleBus{
		redis:      redisClient,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnEvent registers a handler for events from other instances.
func (b *LifecycleBus) OnEvent(handler LifecycleHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

// Start begins listening for lifecycle events.
func (b *LifecycleBus) Start() error {
	b.pubsub = b.redis.Subscribe(b.ctx, VariantChannel)

	// Wait for subscription confirmation
	if _, err := b.pubsub.Receive(b.ctx); err != nil {
		return err
	}

	go b.processMessages()

	log.Printf("✅ [EVENTS] Listening for variant lifecycle events (instance: %s)", b.instanceID)
	return nil
}

// Publish broadcasts a lifecycle event to all instances. Suitable as a
// registry lifecycle hook; publish failures are logged, not surfaced, since
// the local transition already happened.
func (b *LifecycleBus) Publish(event registry.LifecycleEvent) {
	msg := lifecycleMessage{InstanceID: b.instanceID, Event: event}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ [EVENTS] Failed to marshal lifecycle event: %v", err)
		return
	}
	if err := b.redis.Publish(b.ctx, VariantChannel, data); err != nil {
		log.Printf("⚠️ [EVENTS] Failed to publish lifecycle event: %v", err)
	}
}

func (b *LifecycleBus) processMessages() {
	ch := b.pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(msg)
		}
	}
}

func (b *LifecycleBus) handleMessage(msg *redis.Message) {
	var message lifecycleMessage
	if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
		log.Printf("⚠️ [EVENTS] Failed to unmarshal lifecycle event: %v", err)
		return
	}

	// Skip messages from this instance (avoid loops)
	if message.InstanceID == b.instanceID {
		return
	}

	b.mu.RLock()
	handlers := make([]LifecycleHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		go handler(message.Event)
	}
}

// Stop stops the lifecycle bus.
func (b *LifecycleBus) Stop() error {
	b.cancel()
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
