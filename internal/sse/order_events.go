package sse

import (
	"context"
	"sync"

	"festival-ticketing/internal/models"
)

// OrderStatusHub fans order events out to browsers waiting on the payment
// result page, keyed by order number.
type OrderStatusHub struct {
	mu      sync.RWMutex
	clients map[string][]chan models.OrderEvent
}

func NewOrderStatusHub() *OrderStatusHub {
	return &OrderStatusHub{clients: make(map[string][]chan models.OrderEvent)}
}

// Subscribe returns a channel that receives events for orderNumber until ctx
// is done, after which the channel is closed.
func (h *OrderStatusHub) Subscribe(ctx context.Context, orderNumber string) <-chan models.OrderEvent {
	ch := make(chan models.OrderEvent, 10)

	h.mu.Lock()
	h.clients[orderNumber] = append(h.clients[orderNumber], ch)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(orderNumber, ch)
	}()

	return ch
}

// Emit never blocks. A subscriber with a full buffer misses the event.
func (h *OrderStatusHub) Emit(event models.OrderEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients[event.OrderNumber] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *OrderStatusHub) remove(orderNumber string, ch chan models.OrderEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[orderNumber]
	for i, c := range clients {
		if c == ch {
			h.clients[orderNumber] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(h.clients[orderNumber]) == 0 {
		delete(h.clients, orderNumber)
	}
}

func (h *OrderStatusHub) ClientCount(orderNumber string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[orderNumber])
}
