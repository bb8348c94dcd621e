package bus

import (
	"context"
	"sync"
)

type MessageBus struct {
	inbound    chan InboundMessage
	outbound   chan OutboundMessage
	deliveries map[string]DeliveryHandler
	closed     bool
	mu         sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:    make(chan InboundMessage, 100),
		outbound:   make(chan OutboundMessage, 100),
		deliveries: make(map[string]DeliveryHandler),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.inbound <- msg
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		if !ok {
			return InboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.outbound <- msg
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		if !ok {
			return OutboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// RegisterDelivery binds a delivery handler under key ("channel" or
// "channel:account"). Re-registering replaces the previous handler.
func (mb *MessageBus) RegisterDelivery(key string, handler DeliveryHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.deliveries[key] = handler
}

func (mb *MessageBus) GetDelivery(key string) (DeliveryHandler, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	handler, ok := mb.deliveries[key]
	return handler, ok
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}
