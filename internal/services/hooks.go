package services

import (
	"context"
	"sync"

	"github.com/wagnerwagner/merx/internal/domain"
)

// CartEvent is passed to cart listeners. Key, Input and Patch are set for the operations
// that carry them.
type CartEvent struct {
	SessionToken string
	Items        *domain.ListItems
	Key          string
	Input        *domain.ListItemInput
	Patch        *domain.ListItemPatch
}

// OrderInitializeEvent describes a checkout submission before and after cart validation.
type OrderInitializeEvent struct {
	Items         *domain.ListItems
	PaymentMethod string
	Fields        map[string]string
	Staged        *StagedOrder
}

// Before listeners may abort the operation by returning an error. After listeners are
// notifications and run once the state change is persisted.
type (
	BeforeCartCreate interface {
		BeforeCartCreate(ctx context.Context, event CartEvent) error
	}
	AfterCartCreate interface {
		AfterCartCreate(ctx context.Context, event CartEvent)
	}
	BeforeCartAdd interface {
		BeforeCartAdd(ctx context.Context, event CartEvent) error
	}
	AfterCartAdd interface {
		AfterCartAdd(ctx context.Context, event CartEvent)
	}
	BeforeCartRemove interface {
		BeforeCartRemove(ctx context.Context, event CartEvent) error
	}
	AfterCartRemove interface {
		AfterCartRemove(ctx context.Context, event CartEvent)
	}
	BeforeCartUpdate interface {
		BeforeCartUpdate(ctx context.Context, event CartEvent) error
	}
	AfterCartUpdate interface {
		AfterCartUpdate(ctx context.Context, event CartEvent)
	}
	BeforeCartDelete interface {
		BeforeCartDelete(ctx context.Context, event CartEvent) error
	}
	AfterCartDelete interface {
		AfterCartDelete(ctx context.Context, event CartEvent)
	}
	BeforeOrderInitialize interface {
		BeforeOrderInitialize(ctx context.Context, event OrderInitializeEvent) error
	}
	AfterOrderInitialize interface {
		AfterOrderInitialize(ctx context.Context, event OrderInitializeEvent)
	}
	BeforeGatewayInitialize interface {
		BeforeGatewayInitialize(ctx context.Context, staged StagedOrder) error
	}
	AfterGatewayInitialize interface {
		AfterGatewayInitialize(ctx context.Context, staged StagedOrder)
	}
	BeforeOrderComplete interface {
		BeforeOrderComplete(ctx context.Context, staged StagedOrder) error
	}
	AfterOrderComplete interface {
		AfterOrderComplete(ctx context.Context, order Order)
	}
	// PaymentCompleted fires once per order when it transitions to paid, from either the
	// return flow or a webhook.
	PaymentCompleted interface {
		PaymentCompleted(ctx context.Context, order Order)
	}
)

// Listeners holds lifecycle listeners in registration order. A listener implements any
// subset of the listener interfaces above.
type Listeners struct {
	mu   sync.RWMutex
	list []any
}

// NewListeners registers listeners in the given order.
func NewListeners(listeners ...any) *Listeners {
	l := &Listeners{}
	for _, listener := range listeners {
		l.Register(listener)
	}
	return l
}

// Register appends a listener. Nil values are ignored.
func (l *Listeners) Register(listener any) {
	if l == nil || listener == nil {
		return
	}
	l.mu.Lock()
	l.list = append(l.list, listener)
	l.mu.Unlock()
}

func (l *Listeners) snapshot() []any {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]any(nil), l.list...)
}

func runBefore[L any](l *Listeners, call func(L) error) error {
	for _, listener := range l.snapshot() {
		if typed, ok := listener.(L); ok {
			if err := call(typed); err != nil {
				return err
			}
		}
	}
	return nil
}

func runAfter[L any](l *Listeners, call func(L)) {
	for _, listener := range l.snapshot() {
		if typed, ok := listener.(L); ok {
			call(typed)
		}
	}
}
