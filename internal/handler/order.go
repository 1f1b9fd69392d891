package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
)

// Quote prices a free-form shipment with the caller's plan markup.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decode(w, r, &req) {
		return
	}
	quotes, err := h.orch.Quote(r.Context(), principalFrom(r.Context()).CustomerID, req.domain())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuotes(quotes))
}

// CreateOrder registers a channel order for later shipping.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}

	customer := principalFrom(r.Context()).CustomerID
	if c := scope(r.Context()); c == "" && req.CustomerID != "" {
		customer = req.CustomerID
	}
	n := shipment.NewOrder{
		CustomerID:         customer,
		OrderNumber:        req.OrderNumber,
		Pickup:             req.Pickup.domain(),
		Delivery:           req.Delivery.domain(),
		Packages:           packagesDomain(req.Packages),
		Payment:            shipment.Payment{Method: req.Payment.Method, Amount: req.Payment.Amount},
		InvoiceNumber:      req.InvoiceNumber,
		Provider:           req.Provider,
		CourierServiceName: req.CourierServiceName,
	}
	if req.FinalCharges != nil {
		n.FinalCharges = shipment.Charge(*req.FinalCharges)
	}

	ord, err := h.orch.Register(r.Context(), n)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(ord))
}

// GetOrder returns an order. Callers poll it to observe enrichment.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.orch.Order(r.Context(), mux.Vars(r)["id"], scope(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(ord))
}

// QuoteOrder prices an existing order.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.orch.QuoteOrder(r.Context(), mux.Vars(r)["id"], scope(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuotes(quotes))
}

// CreateShipment ships an order and charges the owner's wallet. The waybill
// is always null in the response.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required", nil)
		return
	}

	cr := shipment.CreateRequest{
		OrderID:            req.OrderID,
		CustomerID:         scope(r.Context()),
		Provider:           req.Provider,
		CourierServiceName: req.CourierServiceName,
	}
	if req.FinalCharges != nil {
		cr.FinalCharges = shipment.Charge(*req.FinalCharges)
	}

	res, err := h.orch.CreateShipment(r.Context(), cr)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createShipmentResponse{
		OrderID:       res.OrderID,
		RemoteOrderID: res.RemoteOrderID,
		ShipmentID:    res.ShipmentID,
		Waybill:       res.Waybill,
		Charged:       money(res.Charged),
		TransactionID: res.TransactionID,
	})
}

// CancelOrder cancels a shipped order and refunds its charge.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	customer := scope(ctx)
	if customer == "" {
		ord, err := h.orch.Order(ctx, id, "")
		if err != nil {
			fail(w, r, err)
			return
		}
		customer = ord.CustomerID
	}

	res, err := h.canceller.Cancel(ctx, id, customer)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		OrderID:       res.OrderID,
		Status:        shipment.StatusCancelled,
		Refunded:      money(res.Refunded),
		TransactionID: res.TransactionID,
	})
}

// GetShipment passes the carrier's shipment record through.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	ord, err := h.orch.Order(r.Context(), mux.Vars(r)["id"], scope(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	if ord.ShipmentID == "" {
		writeError(w, http.StatusConflict, "order has no shipment", nil)
		return
	}
	detail, err := h.orch.ShipmentDetail(r.Context(), ord.ShipmentID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newShipmentResponse(detail))
}

// Track passes the carrier's scan history through.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	ord, err := h.orch.Order(r.Context(), mux.Vars(r)["id"], scope(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	if ord.Waybill == nil {
		writeError(w, http.StatusConflict, "order has no waybill yet", nil)
		return
	}
	tracking, err := h.orch.Track(r.Context(), *ord.Waybill)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTrackingResponse(tracking))
}
