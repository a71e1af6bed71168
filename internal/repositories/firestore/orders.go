package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	pfirestore "github.com/stockline/api/internal/platform/firestore"
	"github.com/stockline/api/internal/platform/pagination"
	"github.com/stockline/api/internal/repositories"
)

type orderDocument struct {
	OrderNumber string              `firestore:"orderNumber"`
	CustomerRef string              `firestore:"customerRef"`
	CreatedBy   string              `firestore:"createdBy"`
	Status      string              `firestore:"status"`
	Lines       []orderLineDocument `firestore:"lines"`
	ProductIDs  []string            `firestore:"productIds"`
	Total       string              `firestore:"total"`
	Notes       string              `firestore:"notes,omitempty"`
	OrderedAt   time.Time           `firestore:"orderedAt"`
	CompletedAt *time.Time          `firestore:"completedAt,omitempty"`
	CancelledAt *time.Time          `firestore:"cancelledAt,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"qty"`
	UnitPrice string `firestore:"unitPrice"`
	LineTotal string `firestore:"lineTotal"`
}

func newOrderDocument(o domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(o.Lines))
	productIDs := make([]string, 0, len(o.Lines))
	seen := make(map[string]struct{}, len(o.Lines))
	for i, line := range o.Lines {
		lines[i] = orderLineDocument{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.String(),
			LineTotal: line.LineTotal.String(),
		}
		if _, ok := seen[line.ProductID]; !ok {
			seen[line.ProductID] = struct{}{}
			productIDs = append(productIDs, line.ProductID)
		}
	}
	return orderDocument{
		OrderNumber: o.OrderNumber,
		CustomerRef: o.CustomerRef,
		CreatedBy:   o.CreatedBy,
		Status:      string(o.Status),
		Lines:       lines,
		ProductIDs:  productIDs,
		Total:       o.Total.String(),
		Notes:       o.Notes,
		OrderedAt:   o.OrderedAt.UTC(),
		CompletedAt: utcPtr(o.CompletedAt),
		CancelledAt: utcPtr(o.CancelledAt),
		CreatedAt:   o.CreatedAt.UTC(),
		UpdatedAt:   o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s line price: %w", id, err)
		}
		lineTotal, err := decimal.NewFromString(line.LineTotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s line total: %w", id, err)
		}
		lines[i] = domain.OrderLine{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: price,
			LineTotal: lineTotal,
		}
	}
	total, err := decimal.NewFromString(d.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s total: %w", id, err)
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		CustomerRef: d.CustomerRef,
		CreatedBy:   d.CreatedBy,
		Status:      domain.OrderStatus(d.Status),
		Lines:       lines,
		Total:       total,
		Notes:       d.Notes,
		OrderedAt:   d.OrderedAt,
		CompletedAt: d.CompletedAt,
		CancelledAt: d.CancelledAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

type orderRepository struct {
	store *Store
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("firestore orders insert: order id is required")
	}
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		ref, err := r.store.orders.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := state.tx.Create(ref, newOrderDocument(order)); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		state.orders[order.ID] = order
		return nil
	})
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.store.within(ctx, func(ctx context.Context, state *txState) error {
		ref, err := r.store.orders.Doc(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := state.tx.Set(ref, newOrderDocument(order)); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		state.orders[order.ID] = order
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.store.read(ctx, func(ctx context.Context, state *txState) error {
		o, err := state.order(ctx, orderID)
		out = o
		return err
	})
	return out, err
}

// LockForUpdate reads the order into the transaction; Firestore aborts the commit
// when a concurrent writer changes it.
func (r orderRepository) LockForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.store.within(ctx, func(ctx context.Context, state *txState) error {
		o, err := state.order(ctx, orderID)
		out = o
		return err
	})
	return out, err
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeTokenN(filter.Pagination.PageToken, 2)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	var before time.Time
	if !cursor.IsZero() {
		before, err = time.Parse(time.RFC3339Nano, cursor.After[0])
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
		}
	}
	number := strings.ToLower(strings.TrimSpace(filter.NumberQuery))
	customer := strings.TrimSpace(filter.CustomerRef)

	var page domain.CursorPage[domain.Order]
	err = r.store.read(ctx, func(ctx context.Context, state *txState) error {
		query, err := r.store.orders.Query(ctx)
		if err != nil {
			return err
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			query = query.Where("status", "in", statuses)
		}
		if customer != "" {
			query = query.Where("customerRef", "==", customer)
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			query = query.StartAfter(before, cursor.After[1])
		}

		var items []domain.Order
		err = pfirestore.Each(state.tx.Documents(query), "orders.list", func(id string, doc orderDocument) (bool, error) {
			o, err := doc.toDomain(id)
			if err != nil {
				return false, err
			}
			if number != "" && !strings.Contains(strings.ToLower(o.OrderNumber), number) {
				return true, nil
			}
			items = append(items, o)
			return len(items) <= pageSize, nil
		})
		if err != nil {
			return err
		}

		if len(items) > pageSize {
			items = items[:pageSize]
			last := items[len(items)-1]
			next, err := pagination.EncodeToken(pagination.Cursor{After: []string{last.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID}})
			if err != nil {
				return err
			}
			page.NextPageToken = next
		}
		page.Items = items
		return nil
	})
	return page, err
}

func (r orderRepository) ReferencesProduct(ctx context.Context, productID string) (bool, error) {
	var found bool
	err := r.store.read(ctx, func(ctx context.Context, state *txState) error {
		query, err := r.store.orders.Query(ctx)
		if err != nil {
			return err
		}
		refs, err := pfirestore.Refs(state.tx.Documents(query.Where("productIds", "array-contains", productID).Select().Limit(1)), "orders.referencesProduct")
		if err != nil {
			return err
		}
		found = len(refs) > 0
		return nil
	})
	return found, err
}

func (t *txState) order(ctx context.Context, orderID string) (domain.Order, error) {
	if o, ok := t.orders[orderID]; ok {
		return o, nil
	}
	doc, err := t.store.orders.GetTx(ctx, t.tx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	o, err := doc.toDomain(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	t.orders[orderID] = o
	return o, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
