package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/pagination"
	"github.com/stockline/api/internal/repositories"
)

type orderRepository struct {
	store *Store
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.store.within(ctx, func(tx *txn) error {
		if strings.TrimSpace(order.ID) == "" {
			return conflict("orders.insert", "order id is required")
		}
		if _, exists := tx.order(order.ID); exists {
			return conflict("orders.insert", "order %s already exists", order.ID)
		}
		tx.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.store.within(ctx, func(tx *txn) error {
		if _, exists := tx.order(order.ID); !exists {
			return notFound("orders.update", "order %s not found", order.ID)
		}
		tx.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.store.within(ctx, func(tx *txn) error {
		o, ok := tx.order(orderID)
		if !ok {
			return notFound("orders.find", "order %s not found", orderID)
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (r orderRepository) LockForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.store.within(ctx, func(tx *txn) error {
		if err := tx.lock(ctx, orderLockKey(orderID)); err != nil {
			return err
		}
		o, ok := tx.order(orderID)
		if !ok {
			return notFound("orders.lock", "order %s not found", orderID)
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var page domain.CursorPage[domain.Order]
	err := r.store.within(ctx, func(tx *txn) error {
		statuses := make(map[domain.OrderStatus]struct{}, len(filter.Status))
		for _, s := range filter.Status {
			statuses[s] = struct{}{}
		}
		number := strings.ToLower(strings.TrimSpace(filter.NumberQuery))
		customer := strings.TrimSpace(filter.CustomerRef)

		var matched []domain.Order
		for _, o := range tx.visibleOrders() {
			if len(statuses) > 0 {
				if _, ok := statuses[o.Status]; !ok {
					continue
				}
			}
			if number != "" && !strings.Contains(strings.ToLower(o.OrderNumber), number) {
				continue
			}
			if customer != "" && o.CustomerRef != customer {
				continue
			}
			matched = append(matched, cloneOrder(o))
		}
		// Newest first.
		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return matched[i].ID > matched[j].ID
		})

		items, next, err := pagination.Slice(matched, filter.Pagination.PageSize, filter.Pagination.PageToken,
			func(o domain.Order) []string {
				return []string{o.CreatedAt.UTC().Format(time.RFC3339Nano), o.ID}
			},
			func(o domain.Order, c []string) bool {
				at, err := time.Parse(time.RFC3339Nano, c[0])
				if err != nil {
					return false
				}
				return o.CreatedAt.Before(at) || (o.CreatedAt.Equal(at) && o.ID < c[1])
			})
		if err != nil {
			return err
		}
		page = domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}
		return nil
	})
	return page, err
}

func (r orderRepository) ReferencesProduct(ctx context.Context, productID string) (bool, error) {
	var found bool
	err := r.store.within(ctx, func(tx *txn) error {
		found = tx.referencesProduct(productID)
		return nil
	})
	return found, err
}

func (t *txn) referencesProduct(productID string) bool {
	for _, o := range t.visibleOrders() {
		for _, line := range o.Lines {
			if line.ProductID == productID {
				return true
			}
		}
	}
	return false
}

func (t *txn) visibleOrders() []domain.Order {
	t.store.mu.RLock()
	out := make([]domain.Order, 0, len(t.store.orders)+len(t.orders))
	for id, o := range t.store.orders {
		if _, staged := t.orders[id]; staged {
			continue
		}
		out = append(out, o)
	}
	t.store.mu.RUnlock()
	for _, o := range t.orders {
		out = append(out, o)
	}
	return out
}
