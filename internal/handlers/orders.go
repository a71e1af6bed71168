package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/httpx"
	"github.com/stockline/api/internal/platform/requestctx"
	"github.com/stockline/api/internal/platform/textutil"
	"github.com/stockline/api/internal/services"
)

// OrderHandlers exposes order creation, lookup and status transitions.
type OrderHandlers struct {
	orders services.OrderLifecycleController
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderLifecycleController) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Post("/{orderID}/status", h.transitionOrder)
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerRef string             `json:"customer_ref"`
	Lines       []orderLineRequest `json:"lines"`
	Status      string             `json:"status"`
	Notes       string             `json:"notes"`
	OrderedAt   string             `json:"ordered_at"`
}

type updateOrderRequest struct {
	Notes     *string `json:"notes"`
	OrderedAt *string `json:"ordered_at"`
}

type transitionOrderRequest struct {
	Status string `json:"status"`
}

type orderLinePayload struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	CustomerRef string             `json:"customer_ref"`
	CreatedBy   string             `json:"created_by,omitempty"`
	Status      string             `json:"status"`
	Lines       []orderLinePayload `json:"lines"`
	Total       decimal.Decimal    `json:"total"`
	Notes       string             `json:"notes,omitempty"`
	OrderedAt   string             `json:"ordered_at"`
	CompletedAt string             `json:"completed_at,omitempty"`
	CancelledAt string             `json:"cancelled_at,omitempty"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at,omitempty"`
}

type orderSummaryPayload struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"order_number"`
	CustomerRef string          `json:"customer_ref"`
	Status      string          `json:"status"`
	LineCount   int             `json:"line_count"`
	Total       decimal.Decimal `json:"total"`
	OrderedAt   string          `json:"ordered_at"`
	CreatedAt   string          `json:"created_at"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}

	pager, err := pageParams(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	query := r.URL.Query()
	filter := services.OrderListFilter{
		NumberQuery: strings.TrimSpace(query.Get("number")),
		CustomerRef: strings.TrimSpace(query.Get("customer_ref")),
		Pagination:  pager,
	}
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := parseOrderStatus(raw)
		if !ok {
			writeBadRequest(ctx, w, "status filter contains unsupported value "+raw)
			return
		}
		filter.Status = append(filter.Status, status)
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerRef: textutil.SanitizePlainText(req.CustomerRef),
		Lines:       make([]services.OrderLineInput, 0, len(req.Lines)),
		ActorRef:    requestctx.Actor(ctx),
		Notes:       textutil.SanitizePlainText(req.Notes),
	}
	for i, line := range req.Lines {
		if !quantityInRange(line.Quantity) {
			writeBadRequest(ctx, w, fmt.Sprintf("lines[%d].quantity must be between 0 and %d", i, services.MaxStockQuantity))
			return
		}
		cmd.Lines = append(cmd.Lines, services.OrderLineInput{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}
	if strings.TrimSpace(req.Status) != "" {
		status, ok := parseOrderStatus(req.Status)
		if !ok {
			writeBadRequest(ctx, w, "status must be a known order status")
			return
		}
		cmd.InitialStatus = status
	}
	if strings.TrimSpace(req.OrderedAt) != "" {
		orderedAt, err := parseTimeParam(req.OrderedAt)
		if err != nil {
			writeBadRequest(ctx, w, "ordered_at must be a valid RFC3339 timestamp")
			return
		}
		cmd.OrderedAt = &orderedAt
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}

	var req updateOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	cmd := services.UpdateOrderDetailsCommand{
		OrderID:  strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorRef: requestctx.Actor(ctx),
	}
	if req.Notes != nil {
		notes := textutil.SanitizePlainText(*req.Notes)
		cmd.Notes = &notes
	}
	if req.OrderedAt != nil {
		orderedAt, err := parseTimeParam(*req.OrderedAt)
		if err != nil {
			writeBadRequest(ctx, w, "ordered_at must be a valid RFC3339 timestamp")
			return
		}
		cmd.OrderedAt = &orderedAt
	}

	order, err := h.orders.UpdateOrderDetails(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}

	var req transitionOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	status, ok := parseOrderStatus(req.Status)
	if !ok {
		writeBadRequest(ctx, w, "status must be a known order status")
		return
	}

	order, err := h.orders.TransitionOrderStatus(ctx, services.TransitionOrderCommand{
		OrderID:      strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus: status,
		ActorRef:     requestctx.Actor(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		CustomerRef: order.CustomerRef,
		Status:      string(order.Status),
		LineCount:   len(order.Lines),
		Total:       order.Total,
		OrderedAt:   formatTime(order.OrderedAt),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		CustomerRef: order.CustomerRef,
		CreatedBy:   order.CreatedBy,
		Status:      string(order.Status),
		Lines:       make([]orderLinePayload, 0, len(order.Lines)),
		Total:       order.Total,
		Notes:       order.Notes,
		OrderedAt:   formatTime(order.OrderedAt),
		CompletedAt: formatTimePtr(order.CompletedAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	return payload
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if !status.Valid() {
		return "", false
	}
	return status, true
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
