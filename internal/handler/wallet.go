package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetWallet returns the caller's balance and statement.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	h.writeStatement(w, r, principalFrom(r.Context()).CustomerID)
}

// GetCustomerWallet returns any customer's statement.
func (h *Handler) GetCustomerWallet(w http.ResponseWriter, r *http.Request) {
	h.writeStatement(w, r, mux.Vars(r)["customerId"])
}

func (h *Handler) writeStatement(w http.ResponseWriter, r *http.Request, customerID string) {
	st, err := h.ledger.Statement(r.Context(), customerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(st))
}

// ListPlans returns every plan assignment, newest first.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]planDTO, len(plans))
	for i, p := range plans {
		out[i] = newPlanDTO(i+1, p)
	}
	writeJSON(w, http.StatusOK, out)
}

// AssignPlan sets a customer's tier.
func (h *Handler) AssignPlan(w http.ResponseWriter, r *http.Request) {
	var req assignPlanRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.plans.Assign(r.Context(), mux.Vars(r)["customerId"], req.CustomerName, req.Tier)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanDTO(1, *p))
}
