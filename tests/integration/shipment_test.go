//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func orderBody(number, pincode string, units int, finalCharges any) map[string]any {
	return map[string]any{
		"order_number": number,
		"pickup": map[string]any{
			"name": "Warehouse", "phone": "9999999999", "line1": "Plot 7",
			"city": "New Delhi", "state": "Delhi", "pincode": "110001",
		},
		"delivery": map[string]any{
			"name": "Consignee", "phone": "8888888888", "line1": "Shop 3",
			"city": "Mumbai", "state": "Maharashtra", "pincode": pincode,
		},
		"packages":      []map[string]any{{"units": units, "weight": 5, "length": 30, "width": 20, "height": 10}},
		"payment":       map[string]any{"method": "prepaid", "amount": 2500},
		"final_charges": finalCharges,
	}
}

func uniqueNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func registerOrder(t *testing.T, key string, body map[string]any) orderResponse {
	t.Helper()
	resp := doAuth(t, http.MethodPost, "/api/orders", key, body)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)
	return decodeJSON[orderResponse](t, resp)
}

func balance(t *testing.T, key string) float64 {
	t.Helper()
	resp := doAuth(t, http.MethodGet, "/api/wallet", key, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	return decodeJSON[walletResponse](t, resp).Balance
}

// waitForStage polls the order until it reaches stage.
func waitForStage(t *testing.T, key, id, stage string) orderResponse {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	var last orderResponse
	for time.Now().Before(deadline) {
		resp := doAuth(t, http.MethodGet, "/api/orders/"+id, key, nil)
		expectStatus(t, resp, http.StatusOK)
		last = decodeJSON[orderResponse](t, resp)
		resp.Body.Close()
		if last.Stage == stage {
			return last
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("order %s stuck in stage %q, want %q", id, last.Stage, stage)
	return last
}

func TestShipment_FullLifecycle(t *testing.T) {
	before := balance(t, acmeKey)

	order := registerOrder(t, acmeKey, orderBody(uniqueNumber("IT"), "400001", 2, 184))
	if order.Stage != "quoted" || order.Status != "New" {
		t.Fatalf("new order: stage %q status %q", order.Stage, order.Status)
	}

	resp := doAuth(t, http.MethodPost, "/api/shipments", acmeKey, map[string]any{"order_id": order.ID})
	expectStatus(t, resp, http.StatusCreated)
	created := decodeJSON[shipmentResponse](t, resp)
	resp.Body.Close()

	if created.Charged != 184 {
		t.Errorf("charged: got %v, want 184", created.Charged)
	}
	if created.Waybill != nil {
		t.Errorf("waybill must be unknown right after creation, got %q", *created.Waybill)
	}
	if got := balance(t, acmeKey); got != before-184 {
		t.Errorf("balance after debit: got %v, want %v", got, before-184)
	}

	// Creating the same shipment again is a conflict and charges nothing.
	resp = doAuth(t, http.MethodPost, "/api/shipments", acmeKey, map[string]any{"order_id": order.ID})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	enriched := waitForStage(t, acmeKey, order.ID, "enriched")
	if enriched.Waybill == nil || *enriched.Waybill == "" {
		t.Fatal("enriched order has no waybill")
	}
	if len(enriched.ChildWaybills) != 2 {
		t.Errorf("child waybills: got %v, want 2", enriched.ChildWaybills)
	}
	if enriched.LabelURL == nil {
		t.Error("label url missing after enrichment")
	}

	resp = doAuth(t, http.MethodGet, "/api/orders/"+order.ID+"/tracking", acmeKey, nil)
	expectStatus(t, resp, http.StatusOK)
	tr := decodeJSON[trackingResponse](t, resp)
	resp.Body.Close()
	if tr.Waybill != *enriched.Waybill || tr.Status == "" {
		t.Errorf("tracking: got %+v", tr)
	}

	resp = doAuth(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", acmeKey, nil)
	expectStatus(t, resp, http.StatusOK)
	cancelled := decodeJSON[cancelResponse](t, resp)
	resp.Body.Close()
	if cancelled.Refunded != 184 || cancelled.Status != "Cancelled" {
		t.Errorf("cancel: got %+v", cancelled)
	}
	if got := balance(t, acmeKey); got != before {
		t.Errorf("balance after refund: got %v, want %v", got, before)
	}

	resp = doAuth(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", acmeKey, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestShipment_InsufficientFunds(t *testing.T) {
	before := balance(t, globexKey)
	order := registerOrder(t, globexKey, orderBody(uniqueNumber("IT"), "400001", 1, before+1))

	resp := doAuth(t, http.MethodPost, "/api/shipments", globexKey, map[string]any{"order_id": order.ID})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusPaymentRequired)

	if got := balance(t, globexKey); got != before {
		t.Errorf("balance changed: got %v, want %v", got, before)
	}
}

func TestShipment_CarrierRejection(t *testing.T) {
	before := balance(t, acmeKey)
	order := registerOrder(t, acmeKey, orderBody(uniqueNumber("IT"), "000000", 1, 50))

	resp := doAuth(t, http.MethodPost, "/api/shipments", acmeKey, map[string]any{"order_id": order.ID})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadGateway)

	body := decodeJSON[errorResponse](t, resp)
	if !strings.Contains(string(body.CarrierResponse), "not serviceable") {
		t.Errorf("carrier response not surfaced: %s", body.CarrierResponse)
	}
	if got := balance(t, acmeKey); got != before {
		t.Errorf("a rejected shipment must not charge: got %v, want %v", got, before)
	}
}

func TestShipment_Ownership(t *testing.T) {
	order := registerOrder(t, acmeKey, orderBody(uniqueNumber("IT"), "400001", 1, 10))

	resp := doAuth(t, http.MethodGet, "/api/orders/"+order.ID, globexKey, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("other customer: expected 403, got %d", resp.StatusCode)
	}

	resp = doAuth(t, http.MethodGet, "/api/orders/"+order.ID, adminKey, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", resp.StatusCode)
	}
}

func TestQuote_PlanMarkup(t *testing.T) {
	resp := doAuth(t, http.MethodPost, "/api/quotes", acmeKey, map[string]any{
		"origin":         map[string]any{"pincode": "110001"},
		"destination":    map[string]any{"pincode": "400001"},
		"packages":       []map[string]any{{"units": 1, "weight": 5}},
		"declared_value": 1000,
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	quotes := decodeJSON[[]quoteResponse](t, resp)
	if len(quotes) != 2 {
		t.Fatalf("expected 2 services, got %d", len(quotes))
	}
	if quotes[0].Mode != "surface" {
		t.Errorf("surface services sort first, got %q", quotes[0].Mode)
	}
	// Acme is on Bronze (45%).
	if quotes[0].Total != 145 {
		t.Errorf("surface total: got %v, want 145", quotes[0].Total)
	}
}

func TestAdmin_Plans(t *testing.T) {
	resp := doAuth(t, http.MethodPut, "/api/plans/cust-new", acmeKey, map[string]any{"tier": "Gold"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("customer key: expected 403, got %d", resp.StatusCode)
	}

	resp = doAuth(t, http.MethodPut, "/api/plans/cust-new", adminKey, map[string]any{"customer_name": "Newco", "tier": "Silver"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doAuth(t, http.MethodGet, "/api/plans", adminKey, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	plans := decodeJSON[[]map[string]any](t, resp)
	found := false
	for _, p := range plans {
		if p["customer_id"] == "cust-new" {
			found = true
		}
	}
	if !found {
		t.Errorf("assigned plan missing from list: %v", plans)
	}

	resp = doAuth(t, http.MethodGet, "/api/wallets/"+globexID, adminKey, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if w := decodeJSON[walletResponse](t, resp); w.CustomerID != globexID {
		t.Errorf("wallet customer: got %q", w.CustomerID)
	}
}
