package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dmehra2102/order-service/internal/order/domain"
	"github.com/dmehra2102/order-service/pkg/broker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	items  []domain.OrderItem

	insertOrderErr error
	insertItemErr  map[string]error // by product id
	updateErr      map[string]error // by order id
	deleteErr      error
	findStatusErr  error
	// onUpdate runs before UpdateStatus compares the stored status.
	onUpdate func(id string)
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]domain.Order{}, insertItemErr: map[string]error{}, updateErr: map[string]error{}}
}

func (m *memStore) FindActiveByID(_ context.Context, id string, excluded domain.Status) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status == excluded {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *memStore) FindByReference(_ context.Context, ref string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Reference == ref {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (m *memStore) FindByBuyer(_ context.Context, buyerID string) ([]domain.Order, error) {
	return m.filter(func(o domain.Order) bool { return o.BuyerID == buyerID }), nil
}

func (m *memStore) FindByStatus(_ context.Context, status domain.Status) ([]domain.Order, error) {
	if m.findStatusErr != nil {
		return nil, m.findStatusErr
	}
	return m.filter(func(o domain.Order) bool { return o.Status == status }), nil
}

func (m *memStore) filter(keep func(domain.Order) bool) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out
}

func (m *memStore) InsertOrder(_ context.Context, o domain.Order) error {
	if m.insertOrderErr != nil {
		return m.insertOrderErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.Reference == o.Reference {
			return fmt.Errorf("duplicate reference %s", o.Reference)
		}
	}
	m.orders[o.ID] = o
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, from, to domain.Status) error {
	if m.onUpdate != nil {
		m.onUpdate(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[id]; err != nil {
		return err
	}
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.ErrStatusConflict
	}
	o.Status = to
	m.orders[id] = o
	return nil
}

func (m *memStore) setStatus(id string, st domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Status = st
	m.orders[id] = o
}

func (m *memStore) InsertItem(_ context.Context, item domain.OrderItem) error {
	if err := m.insertItemErr[item.ProductID]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	return nil
}

func (m *memStore) ItemsByReference(_ context.Context, ref string) ([]domain.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderItem
	for _, it := range m.items {
		if it.OrderReference == ref {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) DeleteItemsByReference(_ context.Context, ref string) (int64, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var n int64
	for _, it := range m.items {
		if it.OrderReference == ref {
			n++
			continue
		}
		kept = append(kept, it)
	}
	m.items = kept
	return n, nil
}

func (m *memStore) orderByRef(ref string) (domain.Order, bool) {
	o, err := m.FindByReference(context.Background(), ref)
	return o, err == nil
}

type memSequence struct {
	n   atomic.Int64
	err error
}

func (s *memSequence) Next(context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.n.Add(1), nil
}

type sent struct {
	Topic string
	broker.Message
}

type memPublisher struct {
	mu   sync.Mutex
	sent []sent
	// fail decides per message whether Send rejects the batch.
	fail func(topic string, msg broker.Message) error
}

func (p *memPublisher) Send(_ context.Context, topic string, msgs ...broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		for _, m := range msgs {
			if err := p.fail(topic, m); err != nil {
				return fmt.Errorf("%w: %v", broker.ErrDelivery, err)
			}
		}
	}
	for _, m := range msgs {
		p.sent = append(p.sent, sent{Topic: topic, Message: m})
	}
	return nil
}

func (p *memPublisher) onTopic(topic string) []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sent
	for _, s := range p.sent {
		if s.Topic == topic {
			out = append(out, s)
		}
	}
	return out
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[domain.Status]int
}

func (r *countingRecorder) Transition(to domain.Status, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[domain.Status]int{}
	}
	r.counts[to] += n
}
