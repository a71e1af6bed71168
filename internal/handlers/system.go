package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockline/api/internal/platform/httpx"
	"github.com/stockline/api/internal/services"
)

// SystemHandlers exposes operational reports.
type SystemHandlers struct {
	system services.SystemService
}

// NewSystemHandlers constructs system handlers.
func NewSystemHandlers(system services.SystemService) *SystemHandlers {
	return &SystemHandlers{system: system}
}

// Routes registers the /system endpoints.
func (h *SystemHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/stock-reconciliation", h.reconcileStock)
}

type reconciliationPayload struct {
	ProductID       string `json:"product_id"`
	InitialQuantity int    `json:"initial_quantity"`
	LedgerDelta     int    `json:"ledger_delta"`
	OnHand          int    `json:"on_hand"`
	Entries         int    `json:"entries"`
	Balanced        bool   `json:"balanced"`
}

type reconciliationResponse struct {
	Items         []reconciliationPayload `json:"items"`
	Balanced      bool                    `json:"balanced"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

func (h *SystemHandlers) reconcileStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		writeUnavailable(ctx, w, "system")
		return
	}
	pager, err := pageParams(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.system.ReconcileStock(ctx, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := reconciliationResponse{
		Items:         make([]reconciliationPayload, 0, len(page.Items)),
		Balanced:      true,
		NextPageToken: page.NextPageToken,
	}
	for _, item := range page.Items {
		balanced := item.Balanced()
		if !balanced {
			resp.Balanced = false
		}
		resp.Items = append(resp.Items, reconciliationPayload{
			ProductID:       item.ProductID,
			InitialQuantity: item.InitialQuantity,
			LedgerDelta:     item.LedgerDelta,
			OnHand:          item.OnHand,
			Entries:         item.Entries,
			Balanced:        balanced,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
