// Package shiprocket implements carrier.Gateway against the Shiprocket Cargo
// HTTP API.
package shiprocket

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
)

const (
	defaultBaseURL = "https://api-cargo.shiprocket.in"
	// Cancellation is served by the main Shiprocket API, not the cargo host.
	defaultCancelURL = "https://apiv2.shiprocket.in" + cancelPath
	defaultTimeout   = 30 * time.Second
	maxBody          = 4 << 20

	orderPath       = "/api/external/order_creation/"
	associationPath = "/api/order_shipment_association/"
	shipmentPath    = "/api/external/get_shipment/"
	trackingPath    = "/api/shipment/track/"
	chargesPath     = "/api/shipment/charges/"
	cancelPath      = "/v1/external/orders/cancel"
	refreshPath     = "/api/token/refresh/"
)

// Config configures the API client.
type Config struct {
	// BaseURL is the API root, e.g. https://api-cargo.shiprocket.in.
	BaseURL string
	// ChargesURL overrides the rate calculator endpoint.
	ChargesURL string
	// CancelURL overrides the cancellation endpoint, which lives on a
	// different host than BaseURL.
	CancelURL string
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ChargesURL == "" {
		c.ChargesURL = c.BaseURL + chargesPath
	}
	if c.CancelURL == "" {
		c.CancelURL = defaultCancelURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Client talks to the carrier API. It never retries.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ carrier.Gateway = (*Client)(nil)

// NewClient creates a Client. Requests are traced through otelhttp.
func NewClient(cfg Config) *Client {
	cfg.setDefaults()

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}
}

// CreateOrder registers the order with the carrier.
func (c *Client) CreateOrder(ctx context.Context, token string, p carrier.OrderPayload) (*carrier.RemoteOrder, error) {
	const op = "create order"

	body, err := c.do(ctx, op, http.MethodPost, c.cfg.BaseURL+orderPath, token, encodeOrder(p))
	if err != nil {
		return nil, err
	}
	id, err := decodeID(body, "id", "order_id")
	if err != nil || id == "" {
		return nil, &carrier.Error{Op: op, Payload: body, Err: errors.New("response has no order id")}
	}
	return &carrier.RemoteOrder{ID: id}, nil
}

// AssociateShipment assigns a courier to a remote order.
func (c *Client) AssociateShipment(ctx context.Context, token string, p carrier.AssociationPayload) (*carrier.Association, error) {
	const op = "associate shipment"

	body, err := c.do(ctx, op, http.MethodPost, c.cfg.BaseURL+associationPath, token, encodeAssociation(p))
	if err != nil {
		return nil, err
	}
	id, err := decodeID(body, "id", "shipment_id")
	if err != nil || id == "" {
		return nil, &carrier.Error{Op: op, Payload: body, Err: errors.New("response has no shipment id")}
	}
	return &carrier.Association{ShipmentID: id}, nil
}

// FetchShipmentDetail returns the carrier's current view of a shipment.
func (c *Client) FetchShipmentDetail(ctx context.Context, token, shipmentID string) (*carrier.ShipmentDetail, error) {
	const op = "fetch shipment"

	u := c.cfg.BaseURL + shipmentPath + url.PathEscape(shipmentID) + "/"
	body, err := c.do(ctx, op, http.MethodGet, u, token, nil)
	if err != nil {
		return nil, err
	}
	detail, err := decodeShipmentDetail(body)
	if err != nil {
		return nil, &carrier.Error{Op: op, Payload: body, Err: err}
	}
	if detail.ShipmentID == "" {
		detail.ShipmentID = shipmentID
	}
	return detail, nil
}

// FetchTracking returns the scan history of a waybill.
func (c *Client) FetchTracking(ctx context.Context, token, waybill string) (*carrier.Tracking, error) {
	const op = "fetch tracking"

	u := c.cfg.BaseURL + trackingPath + url.PathEscape(waybill) + "/"
	body, err := c.do(ctx, op, http.MethodGet, u, token, nil)
	if err != nil {
		return nil, err
	}
	tr, err := decodeTracking(body)
	if err != nil {
		return nil, &carrier.Error{Op: op, Payload: body, Err: err}
	}
	if tr.Waybill == "" {
		tr.Waybill = waybill
	}
	return tr, nil
}

// CancelOrder asks the carrier to cancel a remote order. The carrier
// reports acceptance with status 200 in the response body.
func (c *Client) CancelOrder(ctx context.Context, token, remoteOrderID string) (*carrier.CancelResult, error) {
	const op = "cancel order"

	body, err := c.do(ctx, op, http.MethodPost, c.cfg.CancelURL, token, encodeCancel(remoteOrderID))
	if err != nil {
		return nil, err
	}
	status, err := decodeStatus(body)
	if err != nil {
		return nil, &carrier.Error{Op: op, Payload: body, Err: err}
	}
	return &carrier.CancelResult{Accepted: status == http.StatusOK, Payload: body}, nil
}

// Charges returns the raw rate sheet for every service the carrier offers.
func (c *Client) Charges(ctx context.Context, token string, req pricing.QuoteRequest) ([]pricing.ServiceCharges, error) {
	const op = "fetch charges"

	body, err := c.do(ctx, op, http.MethodPost, c.cfg.ChargesURL, token, encodeChargesRequest(req))
	if err != nil {
		return nil, err
	}
	services, err := decodeCharges(body)
	if err != nil {
		return nil, &carrier.Error{Op: op, Payload: body, Err: err}
	}
	return services, nil
}

// do performs one exchange. Any non-2xx response becomes a *carrier.Error
// carrying the response body; 401 additionally wraps carrier.ErrUnauthorized.
func (c *Client) do(ctx context.Context, op, method, u, token string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, &carrier.Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &carrier.Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &carrier.Error{Op: op, Status: resp.StatusCode, Err: errors.Wrap(err, "read body")}
	}

	zctx.From(ctx).Debug("Carrier call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &carrier.Error{Op: op, Status: resp.StatusCode, Payload: body, Err: carrier.ErrUnauthorized}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &carrier.Error{Op: op, Status: resp.StatusCode, Payload: body}
	}
	return body, nil
}
