// Package backend is the HTTP client for the slot, booking, payment and
// profile endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slotsync/internal/bookings"
	"slotsync/internal/slots"
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d", e.Endpoint, e.StatusCode)
}

// Order is a payment order created by the backend.
type Order struct {
	ID       string `json:"id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// VerifyRequest is the payment proof plus the booking it pays for.
type VerifyRequest struct {
	OrderID   string      `json:"razorpay_order_id"`
	PaymentID string      `json:"razorpay_payment_id"`
	Signature string      `json:"razorpay_signature"`
	UserEmail string      `json:"userEmail"`
	Date      slots.Date  `json:"date"`
	Time      slots.Clock `json:"time"`
}

// VerifyResponse reports whether the payment was accepted and the booking made.
type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ProfileUpdate is the body of the profile update endpoint.
type ProfileUpdate struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	College string `json:"college"`
}

// Client calls the booking backend. Slot availability and profile updates
// live on the auth service, which may have its own base URL.
type Client struct {
	baseURL     string
	authBaseURL string
	apiKey      string
	httpClient  *http.Client
}

// NewClient constructs a client. An empty authBaseURL falls back to baseURL.
// The timeout bounds every request; callers may impose shorter ones through
// the context.
func NewClient(baseURL, authBaseURL, apiKey string, timeout time.Duration) *Client {
	if authBaseURL == "" {
		authBaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		authBaseURL: strings.TrimRight(authBaseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// FetchAvailability returns the raw slot catalog.
func (c *Client) FetchAvailability(ctx context.Context) ([]slots.Day, error) {
	endpoint := c.authBaseURL + "/slotsavailable"
	var days []slots.Day
	if err := c.doGet(ctx, endpoint, &days); err != nil {
		return nil, err
	}
	if err := slots.Validate(days); err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return days, nil
}

// FetchBookings returns the booking history of email.
func (c *Client) FetchBookings(ctx context.Context, email string) ([]bookings.Record, error) {
	endpoint := fmt.Sprintf("%s/bookings/%s", c.baseURL, url.PathEscape(email))
	var records []bookings.Record
	if err := c.doGet(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateOrder creates a payment order for amount in the smallest unit the
// backend expects.
func (c *Client) CreateOrder(ctx context.Context, amount int) (*Order, error) {
	endpoint := c.baseURL + "/payment/create-order"
	body := struct {
		Amount int `json:"amount"`
	}{Amount: amount}

	var order Order
	if err := c.doPost(ctx, endpoint, body, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%s: order without id", endpoint)
	}
	return &order, nil
}

// VerifyPayment submits the payment proof. A rejected proof is reported by
// Success=false, not by an error.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	endpoint := c.baseURL + "/payment/verify-payment"
	var resp VerifyResponse
	if err := c.doPost(ctx, endpoint, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateProfile stores name and college for the user.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) error {
	endpoint := c.authBaseURL + "/update"
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.doPost(ctx, endpoint, upd, &resp); err != nil {
		return err
	}
	if !resp.Success {
		if resp.Message != "" {
			return fmt.Errorf("%s: %s", endpoint, resp.Message)
		}
		return fmt.Errorf("%s: update rejected", endpoint)
	}
	return nil
}

// HealthCheck probes the backend.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doGet(ctx, c.baseURL+"/healthz", nil)
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{Endpoint: req.URL.Path, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
