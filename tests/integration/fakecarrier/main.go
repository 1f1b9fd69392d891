// Command fakecarrier serves a minimal stand-in for the Shiprocket Cargo API
// so the integration suite can drive full shipment flows.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
)

type server struct {
	mu        sync.Mutex
	seq       int
	units     map[string]int    // remote order id -> package units
	shipments map[string]string // shipment id -> remote order id
	cancelled map[string]bool
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	flag.Parse()

	s := &server{
		units:     make(map[string]int),
		shipments: make(map[string]string),
		cancelled: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token/refresh/", s.refresh)
	mux.HandleFunc("POST /api/external/order_creation/", s.createOrder)
	mux.HandleFunc("POST /api/order_shipment_association/", s.associate)
	mux.HandleFunc("GET /api/external/get_shipment/{id}/{$}", s.shipment)
	mux.HandleFunc("GET /api/shipment/track/{waybill}/{$}", s.tracking)
	mux.HandleFunc("POST /api/shipment/charges/", s.charges)
	mux.HandleFunc("POST /v1/external/orders/cancel", s.cancel)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	slog.Info("fake carrier listening", slog.String("addr", *addr))
	if err := http.ListenAndServe(*addr, authorized(mux)); err != nil {
		slog.Error("serve", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// authorized rejects API calls that carry no bearer token.
func authorized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token/refresh/", "/healthz":
		default:
			if r.Header.Get("Authorization") != "Bearer fake-access" {
				reply(w, http.StatusUnauthorized, map[string]any{"detail": "token not valid"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		reply(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return false
	}
	return true
}

func (s *server) next() string {
	s.seq++
	return strconv.Itoa(1000 + s.seq)
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Refresh == "" {
		reply(w, http.StatusUnauthorized, map[string]any{"detail": "refresh token required"})
		return
	}
	reply(w, http.StatusOK, map[string]any{"access": "fake-access"})
}

func (s *server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID  string `json:"order_id"`
		Consignee struct {
			Pincode string `json:"pincode"`
		} `json:"consignee_address"`
		Packages []struct {
			Units int `json:"units"`
		} `json:"packaging_unit_details"`
	}
	if !decode(w, r, &req) {
		return
	}
	// 000000 is the integration suite's unserviceable pincode.
	if req.Consignee.Pincode == "000000" {
		reply(w, http.StatusBadRequest, map[string]any{"message": "pincode not serviceable"})
		return
	}
	units := 0
	for _, p := range req.Packages {
		units += p.Units
	}

	s.mu.Lock()
	id := s.next()
	s.units[id] = units
	s.mu.Unlock()

	reply(w, http.StatusCreated, map[string]any{"id": id, "order_id": req.OrderID})
}

func (s *server) associate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[req.OrderID]; !ok {
		reply(w, http.StatusNotFound, map[string]any{"message": "order not found"})
		return
	}
	id := "S" + s.next()
	s.shipments[id] = req.OrderID
	reply(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id}})
}

func (s *server) shipment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	order, ok := s.shipments[id]
	units := s.units[order]
	s.mu.Unlock()
	if !ok {
		reply(w, http.StatusNotFound, map[string]any{"message": "shipment not found"})
		return
	}

	waybill := "WB" + id
	children := make([]string, 0, units)
	for i := range units {
		children = append(children, waybill+"-"+strconv.Itoa(i+1))
	}
	reply(w, http.StatusOK, map[string]any{
		"id":                id,
		"waybill_no":        waybill,
		"child_waybill_nos": children,
		"label_url":         "https://labels.example/" + waybill + ".pdf",
		"status":            "manifested",
		"delivery_partner": map[string]any{
			"name":        "Delhivery Surface",
			"common_name": "Delhivery",
		},
	})
}

func (s *server) tracking(w http.ResponseWriter, r *http.Request) {
	waybill := r.PathValue("waybill")
	reply(w, http.StatusOK, map[string]any{
		"waybill_no":     waybill,
		"current_status": "In Transit",
		"scans": []map[string]any{
			{"scan": "Picked Up", "location": "New Delhi", "timestamp": "2026-04-10T12:00:00Z"},
		},
	})
}

func (s *server) charges(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !decode(w, r, &req) {
		return
	}
	reply(w, http.StatusOK, map[string]any{
		"Smart Cargo Advantage-surface": map[string]any{
			"common_name":      "Delhivery",
			"delivery_partner": "Delhivery Surface",
			"working": map[string]any{
				"freight":     100,
				"gst":         10,
				"total":       100,
				"grand_total": 110,
			},
		},
		"Smart Cargo Advantage-air": map[string]any{
			"common_name": "Blue Dart",
			"working": map[string]any{
				"freight":     "250.50",
				"gst":         25,
				"total":       250.5,
				"grand_total": 275.5,
			},
		},
	})
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []json.Number `json:"ids"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range req.IDs {
		id := n.String()
		if _, ok := s.units[id]; !ok || s.cancelled[id] {
			reply(w, http.StatusOK, map[string]any{"status": 400, "message": "order cannot be cancelled"})
			return
		}
		s.cancelled[id] = true
	}
	reply(w, http.StatusOK, map[string]any{"status": 200, "message": "cancelled"})
}
