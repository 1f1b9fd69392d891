package shiprocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
)

// --- Helpers ---

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

type fakeAPI struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	api := &fakeAPI{t: t, routes: make(map[string]func(http.ResponseWriter, *http.Request))}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)
	return api, NewClient(Config{BaseURL: srv.URL, CancelURL: srv.URL + cancelPath, Timeout: 5 * time.Second})
}

func (a *fakeAPI) handle(path string, status int, body string) {
	a.routes[path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (a *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := recorded{
		method: r.Method,
		path:   r.URL.Path,
		auth:   r.Header.Get("Authorization"),
	}
	if len(raw) > 0 {
		assert.NoError(a.t, json.Unmarshal(raw, &rec.body), "request body must be valid JSON")
	}
	a.mu.Lock()
	a.requests = append(a.requests, rec)
	h, ok := a.routes[r.URL.Path]
	a.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (a *fakeAPI) last() recorded {
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(a.t, a.requests)
	return a.requests[len(a.requests)-1]
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Tests ---

func TestClient_CreateOrder(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(orderPath, http.StatusCreated, `{"id": 98765, "status": "created"}`)

	res, err := c.CreateOrder(context.Background(), "tok", carrier.OrderPayload{
		ClientID:     "client-7",
		OrderNumber:  "ORD-1",
		Pickup:       carrier.Address{Name: "WH", Pincode: "110001"},
		Delivery:     carrier.Address{Name: "Shop", Pincode: "400001"},
		Packages:     []pricing.Package{{Units: 2, Weight: d("5"), Length: d("10"), Width: d("10"), Height: d("10")}},
		PackageCount: 2,
		TotalWeight:  d("10"),
		InvoiceValue: d("2500"),
		COD:          true,
		CODAmount:    d("2500"),
		Mode:         "surface",
	})
	require.NoError(t, err)
	assert.Equal(t, "98765", res.ID)

	req := api.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "Bearer tok", req.auth)
	assert.Equal(t, "ORD-1", req.body["order_id"])
	assert.Equal(t, true, req.body["is_cod"])
	assert.EqualValues(t, 2, req.body["no_of_packages"])
	assert.Equal(t, "400001", req.body["consignee_address"].(map[string]any)["pincode"])
	units := req.body["packaging_unit_details"].([]any)
	require.Len(t, units, 1)
	assert.EqualValues(t, 5, units[0].(map[string]any)["weight"])
}

func TestClient_AssociateShipment(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(associationPath, http.StatusOK, `{"data": {"shipment_id": "S-1"}}`)

	at := time.Date(2026, 4, 10, 11, 30, 0, 0, time.UTC)
	res, err := c.AssociateShipment(context.Background(), "tok", carrier.AssociationPayload{
		RemoteOrderID:     "98765",
		PickupAt:          at,
		ModeID:            16,
		DeliveryPartnerID: 11,
		InvoiceNumber:     "INV-ORD-1",
		InvoiceValue:      d("2500"),
		InvoiceDate:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, "S-1", res.ShipmentID)

	req := api.last()
	assert.Equal(t, "98765", req.body["order_id"])
	assert.EqualValues(t, 16, req.body["mode_id"])
	assert.EqualValues(t, 11, req.body["delivery_partner_id"])
	assert.Equal(t, "2026-04-10 11:30:00", req.body["pickup_date_time"])
	assert.Equal(t, "2026-04-10", req.body["invoice_date"])
}

func TestClient_ErrorCarriesPayload(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(orderPath, http.StatusUnprocessableEntity, `{"message":"Pincode not serviceable"}`)

	_, err := c.CreateOrder(context.Background(), "tok", carrier.OrderPayload{})
	require.Error(t, err)

	var cerr *carrier.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, http.StatusUnprocessableEntity, cerr.Status)
	assert.JSONEq(t, `{"message":"Pincode not serviceable"}`, string(cerr.Payload))
	assert.NotErrorIs(t, err, carrier.ErrUnauthorized)
}

func TestClient_Unauthorized(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(associationPath, http.StatusUnauthorized, `{"detail":"Given token not valid"}`)

	_, err := c.AssociateShipment(context.Background(), "old", carrier.AssociationPayload{})
	require.ErrorIs(t, err, carrier.ErrUnauthorized)
}

func TestClient_MissingID(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(orderPath, http.StatusOK, `{"status":"ok"}`)

	_, err := c.CreateOrder(context.Background(), "tok", carrier.OrderPayload{})
	var cerr *carrier.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "create order", cerr.Op)
}

func TestClient_FetchShipmentDetail(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		waybill  string
		children []string
	}{
		{
			name: "generated",
			body: `{"id": 42, "waybill_no": "WB-1", "child_waybill_nos": ["WB-1-1", "WB-1-2"],
				"delivery_partner": {"name": "Delhivery Surface", "common_name": "Delhivery", "logo": "https://x/logo.png"},
				"label_url": "https://x/label.pdf", "status": "Ready To Ship"}`,
			waybill:  "WB-1",
			children: []string{"WB-1-1", "WB-1-2"},
		},
		{
			name: "pending",
			body: `{"id": 42, "waybill_no": null, "child_waybill_nos": null, "delivery_partner": null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, c := newFakeAPI(t)
			api.handle(shipmentPath+"42/", http.StatusOK, tt.body)

			got, err := c.FetchShipmentDetail(context.Background(), "tok", "42")
			require.NoError(t, err)
			assert.Equal(t, "42", got.ShipmentID)
			assert.Equal(t, tt.waybill, got.Waybill)
			assert.Equal(t, tt.children, got.ChildWaybills)
			assert.Equal(t, http.MethodGet, api.last().method)
		})
	}
}

func TestClient_FetchShipmentDetail_Partner(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(shipmentPath+"42/", http.StatusOK, `{"data": {"waybill_no": "WB-1",
		"delivery_partner": {"name": "Delhivery Surface", "common_name": "Delhivery", "logo": "https://x/logo.png"},
		"label_url": "https://x/label.pdf"}}`)

	got, err := c.FetchShipmentDetail(context.Background(), "tok", "42")
	require.NoError(t, err)
	assert.Equal(t, "WB-1", got.Waybill)
	assert.Equal(t, carrier.DeliveryPartner{
		Name: "Delhivery Surface", CommonName: "Delhivery", Logo: "https://x/logo.png",
	}, got.DeliveryPartner)
	assert.Equal(t, "https://x/label.pdf", got.LabelURL)
}

func TestClient_FetchShipmentDetail_LabelFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "camel case only", body: `{"waybill_no": "WB-1", "labelUrl": "https://x/camel.pdf"}`, want: "https://x/camel.pdf"},
		{name: "snake case wins", body: `{"labelUrl": "https://x/camel.pdf", "label_url": "https://x/snake.pdf"}`, want: "https://x/snake.pdf"},
		{name: "empty snake case", body: `{"label_url": "", "labelUrl": "https://x/camel.pdf"}`, want: "https://x/camel.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, c := newFakeAPI(t)
			api.handle(shipmentPath+"42/", http.StatusOK, tt.body)

			got, err := c.FetchShipmentDetail(context.Background(), "tok", "42")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.LabelURL)
		})
	}
}

func TestClient_FetchTracking(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(trackingPath+"WB-1/", http.StatusOK, `{"waybill_no": "WB-1", "current_status": "In Transit",
		"scans": [
			{"scan": "Picked Up", "location": "Delhi", "timestamp": "2026-04-10T12:00:00Z"},
			{"scan": "In Transit", "location": "Jaipur", "remarks": "Bagged", "timestamp": "2026-04-11 08:15:00"}
		]}`)

	tr, err := c.FetchTracking(context.Background(), "tok", "WB-1")
	require.NoError(t, err)
	assert.Equal(t, "In Transit", tr.Status)
	require.Len(t, tr.Events, 2)
	assert.Equal(t, "Picked Up", tr.Events[0].Status)
	assert.Equal(t, time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC), tr.Events[0].At)
	assert.Equal(t, "Bagged", tr.Events[1].Remarks)
	assert.Equal(t, time.Date(2026, 4, 11, 8, 15, 0, 0, time.UTC), tr.Events[1].At)
	assert.Equal(t, http.MethodGet, api.last().method)
}

func TestClient_CancelOrder(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		accepted bool
	}{
		{name: "accepted", body: `{"status": 200, "message": "Cancelled"}`, accepted: true},
		{name: "rejected", body: `{"status": 400, "message": "Already picked up"}`},
		{name: "string status", body: `{"status": "200"}`, accepted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, c := newFakeAPI(t)
			api.handle(cancelPath, http.StatusOK, tt.body)

			res, err := c.CancelOrder(context.Background(), "tok", "98765")
			require.NoError(t, err)
			assert.Equal(t, tt.accepted, res.Accepted)
			assert.JSONEq(t, tt.body, string(res.Payload))
			assert.Equal(t, []any{float64(98765)}, api.last().body["ids"])
		})
	}
}

func TestClient_CancelURLOverride(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/custom/cancel", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":200}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: "http://unused.invalid", CancelURL: srv.URL + "/custom/cancel"})
	res, err := c.CancelOrder(context.Background(), "tok", "1")
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.EqualValues(t, 1, hits.Load())
}

func TestClient_Charges(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(chargesPath, http.StatusOK, `{
		"Smart Cargo Advantage-air": {
			"common_name": "Blue Dart", "delivery_partner": "Blue Dart Air",
			"working": {"freight": 300, "gst": 54, "total": 300, "grand_total": 354}
		},
		"Smart Cargo Advantage-surface": {
			"delivery_partner": "Delhivery", "common_name": "Delhivery Surface", "tat": 4,
			"working": {"freight": "100.50", "handling_charges": 20, "oda": null, "gst": 21.69,
				"zone": "N2", "total": 120.5, "grand_total": 142.19}
		},
		"Smart Cargo Lite-surface": {"common_name": "Unrated"}
	}`)

	services, err := c.Charges(context.Background(), "tok", pricing.QuoteRequest{
		Origin:        pricing.Location{Pincode: "110001"},
		Destination:   pricing.Location{Pincode: "400001"},
		Packages:      []pricing.Package{{Units: 1, Weight: d("5")}},
		DeclaredValue: d("2500"),
	})
	require.NoError(t, err)
	require.Len(t, services, 2, "services without a breakdown are dropped")

	surface := services[0]
	assert.Equal(t, "Smart Cargo Advantage-surface", surface.Name)
	assert.Equal(t, "surface", surface.Mode)
	assert.Equal(t, "Delhivery Surface", surface.DeliveryPartner)
	assert.True(t, d("100.5").Equal(surface.Fields["freight"]))
	assert.True(t, d("20").Equal(surface.Fields["handling_charges"]))
	assert.True(t, d("21.69").Equal(surface.Fields["gst"]))
	assert.NotContains(t, surface.Fields, "oda")
	assert.NotContains(t, surface.Fields, "zone")
	assert.NotContains(t, surface.Fields, "tat", "only the breakdown is read")

	air := services[1]
	assert.Equal(t, "air", air.Mode)
	assert.Equal(t, "Blue Dart", air.DeliveryPartner)
	assert.True(t, d("300").Equal(air.Fields["freight"]))

	req := api.last()
	assert.Equal(t, chargesPath, req.path)
	assert.Equal(t, "110001", req.body["from_pincode"])
	assert.Equal(t, "true", req.body["calculator_page"])
}

func TestClient_ChargesThroughEngine(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(chargesPath, http.StatusOK, `{"Smart Cargo Advantage-surface": {
		"working": {"freight": 100, "handling_charges": 20, "gst": 10, "total": 999, "grand_total": 1009}}}`)
	api.handle(refreshPath, http.StatusOK, `{"access": "a1"}`)

	engine := pricing.NewEngine(carrier.RateFeed{Gateway: c, Auth: NewTokenSource(c, "r", 0)})
	quotes, err := engine.Quote(context.Background(), pricing.QuoteRequest{
		Origin:      pricing.Location{Pincode: "110001"},
		Destination: pricing.Location{Pincode: "400001"},
		Packages:    []pricing.Package{{Units: 1, Weight: d("5")}},
	}, d("45"))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.True(t, d("145").Equal(quotes[0].Fields["freight"]))
	assert.True(t, d("29").Equal(quotes[0].Fields["handling_charges"]))
	assert.True(t, d("174").Equal(quotes[0].Total))
	assert.True(t, d("184").Equal(quotes[0].GrandTotal))
	assert.Equal(t, "Bearer a1", api.last().auth)
}

func TestClient_DefaultEndpoints(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, "https://api-cargo.shiprocket.in/api/shipment/charges/", c.cfg.ChargesURL)
	assert.Equal(t, "https://apiv2.shiprocket.in/v1/external/orders/cancel", c.cfg.CancelURL)
}

func TestTokenSource(t *testing.T) {
	api, c := newFakeAPI(t)
	var issued atomic.Int32
	api.routes[refreshPath] = func(w http.ResponseWriter, _ *http.Request) {
		n := issued.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"access": "access-`+string(rune('0'+n))+`"}`)
	}

	ts := NewTokenSource(c, "refresh-1", time.Minute)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, issued.Load(), "concurrent refreshes collapse")
	for _, tok := range tokens {
		assert.Equal(t, "access-1", tok)
	}
	assert.Equal(t, "refresh-1", api.last().body["refresh"])
	assert.Empty(t, api.last().auth)

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok, "cached")

	ts.Invalidate()
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)

	now = now.Add(2 * time.Minute)
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-3", tok, "expired")
}

func TestTokenSource_Failure(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle(refreshPath, http.StatusUnauthorized, `{"detail":"Token is invalid or expired"}`)

	_, err := NewTokenSource(c, "bad", 0).Token(context.Background())
	var cerr *carrier.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "refresh token", cerr.Op)

	_, err = NewTokenSource(c, "", 0).Token(context.Background())
	require.Error(t, err)
}

func TestWithToken_RetriesOnceAgainstAPI(t *testing.T) {
	api, c := newFakeAPI(t)
	var refreshes atomic.Int32
	api.routes[refreshPath] = func(w http.ResponseWriter, _ *http.Request) {
		if refreshes.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"access": "stale"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access": "fresh"}`)
	}
	api.routes[orderPath] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"id": 7}`)
	}

	ts := NewTokenSource(c, "r", 0)
	res, err := carrier.WithToken(context.Background(), ts, func(ctx context.Context, token string) (*carrier.RemoteOrder, error) {
		return c.CreateOrder(ctx, token, carrier.OrderPayload{})
	})
	require.NoError(t, err)
	assert.Equal(t, "7", res.ID)
	assert.EqualValues(t, 2, refreshes.Load())
}
