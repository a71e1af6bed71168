package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/stockline/api/internal/domain"
	"github.com/stockline/api/internal/platform/httpx"
	"github.com/stockline/api/internal/platform/textutil"
	"github.com/stockline/api/internal/services"
)

// ProductHandlers exposes the product catalogue, manual stock movements and ledger history.
type ProductHandlers struct {
	products services.ProductService
	ledger   services.StockLedger
}

// NewProductHandlers constructs product handlers. The ledger may be nil, which disables the history route.
func NewProductHandlers(products services.ProductService, ledger services.StockLedger) *ProductHandlers {
	return &ProductHandlers{products: products, ledger: ledger}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/{productID}", h.getProduct)
	r.Patch("/{productID}", h.updateProduct)
	r.Delete("/{productID}", h.deleteProduct)
	r.Post("/{productID}/stock", h.updateStock)
	r.Get("/{productID}/ledger", h.listLedger)
}

type createProductRequest struct {
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	InitialQuantity int             `json:"initial_quantity"`
	MinStock        int             `json:"min_stock"`
}

type updateProductRequest struct {
	Name      *string          `json:"name"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	MinStock  *int             `json:"min_stock"`
	Status    *string          `json:"status"`
}

type updateStockRequest struct {
	Type     string `json:"type"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type productPayload struct {
	ID              string          `json:"id"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	InitialQuantity int             `json:"initial_quantity"`
	MinStock        int             `json:"min_stock"`
	LowStock        bool            `json:"low_stock"`
	Status          string          `json:"status"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at,omitempty"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type stockChangePayload struct {
	ProductID     string `json:"product_id"`
	Direction     string `json:"direction"`
	Previous      int    `json:"previous"`
	Current       int    `json:"current"`
	Delta         int    `json:"delta"`
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`
}

type ledgerEntryPayload struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Quantity  int    `json:"quantity"`
	Delta     int    `json:"delta"`
	Cause     string `json:"cause"`
	CreatedAt string `json:"created_at"`
}

type ledgerListResponse struct {
	Items         []ledgerEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}

	pager, err := pageParams(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	query := r.URL.Query()
	lowStock, err := parseBoolParam(query.Get("low_stock"))
	if err != nil {
		writeBadRequest(ctx, w, "low_stock "+err.Error())
		return
	}
	filter := services.ProductListFilter{
		Search:     textutil.SanitizePlainText(query.Get("q")),
		LowStock:   lowStock,
		Pagination: pager,
	}
	for _, status := range parseFilterValues(query["status"]) {
		filter.Status = append(filter.Status, domain.ProductStatus(status))
	}

	page, err := h.products.ListProducts(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	httpx.WriteJSON(w, http.StatusOK, productListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}

	var req createProductRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}

	if !quantityInRange(req.InitialQuantity) {
		writeBadRequest(ctx, w, fmt.Sprintf("initial_quantity must be between 0 and %d", services.MaxStockQuantity))
		return
	}

	product, err := h.products.CreateProduct(ctx, services.CreateProductCommand{
		SKU:             req.SKU,
		Name:            textutil.SanitizePlainText(req.Name),
		UnitPrice:       req.UnitPrice,
		InitialQuantity: req.InitialQuantity,
		MinStock:        req.MinStock,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+product.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildProductPayload(product))
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	product, err := h.products.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}

	var req updateProductRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	cmd := services.UpdateProductCommand{
		ProductID: chi.URLParam(r, "productID"),
		UnitPrice: req.UnitPrice,
		MinStock:  req.MinStock,
	}
	if req.Name != nil {
		name := textutil.SanitizePlainText(*req.Name)
		cmd.Name = &name
	}
	if req.Status != nil {
		status := domain.ProductStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}

	product, err := h.products.UpdateProduct(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}
	result, err := h.products.DeleteProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if result.Deactivated {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"id":          result.ProductID,
			"deactivated": true,
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) updateStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		writeUnavailable(ctx, w, "product")
		return
	}

	var req updateStockRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return
	}
	if !quantityInRange(req.Quantity) {
		writeBadRequest(ctx, w, fmt.Sprintf("quantity must be between 0 and %d", services.MaxStockQuantity))
		return
	}
	change, err := h.products.UpdateStock(ctx, services.UpdateStockCommand{
		ProductID: chi.URLParam(r, "productID"),
		Type:      domain.StockDirection(strings.ToLower(strings.TrimSpace(req.Type))),
		Quantity:  req.Quantity,
		Reason:    textutil.SanitizePlainText(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stockChangePayload{
		ProductID:     change.ProductID,
		Direction:     string(change.Direction),
		Previous:      change.Previous,
		Current:       change.Current,
		Delta:         change.Delta,
		LedgerEntryID: change.LedgerEntryID,
	})
}

func (h *ProductHandlers) listLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		writeUnavailable(ctx, w, "ledger")
		return
	}
	pager, err := pageParams(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.ledger.List(ctx, chi.URLParam(r, "productID"), pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]ledgerEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, ledgerEntryPayload{
			ID:        entry.ID,
			Direction: string(entry.Direction),
			Quantity:  entry.Quantity,
			Delta:     entry.SignedDelta(),
			Cause:     entry.Cause,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, ledgerListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:              product.ID,
		SKU:             product.SKU,
		Name:            product.Name,
		UnitPrice:       product.UnitPrice,
		Quantity:        product.Quantity,
		InitialQuantity: product.InitialQuantity,
		MinStock:        product.MinStock,
		LowStock:        product.IsLowStock(),
		Status:          string(product.Status),
		CreatedAt:       formatTime(product.CreatedAt),
		UpdatedAt:       formatTime(product.UpdatedAt),
	}
}
