package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotsync/internal/slots"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "", "secret", time.Second)
}

func TestFetchAvailability(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/slotsavailable", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`[
			{"date":"2025-03-10","slots":[{"time":"10:00","booked":false},{"time":"11:00","booked":true}]},
			{"date":"2025-03-11T00:00:00.000Z","slots":[]}
		]`))
	})

	days, err := client.FetchAvailability(context.Background())
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2025-03-10", days[0].Date.String())
	assert.True(t, days[0].Slots[1].Booked)
	assert.Equal(t, "2025-03-11", days[1].Date.String())
	assert.Empty(t, days[1].Slots)
}

func TestFetchAvailabilityFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"not json", http.StatusOK, `<html>`},
		{"malformed time", http.StatusOK, `[{"date":"2025-03-10","slots":[{"time":"9am"}]}]`},
		{"duplicate date", http.StatusOK, `[{"date":"2025-03-10","slots":[]},{"date":"2025-03-10","slots":[]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			})

			_, err := client.FetchAvailability(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := client.HealthCheck(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "/healthz", se.Endpoint)
}

func TestFetchBookings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookings/a+b@c.d", r.URL.Path)
		_, _ = w.Write([]byte(`[{"email":"a+b@c.d","date":"2025-03-10","time":"10:00","paymentId":"pay_1"}]`))
	})

	records, err := client.FetchBookings(context.Background(), "a+b@c.d")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pay_1", records[0].PaymentID)
	assert.Equal(t, "10:00", records[0].Time.String())
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment/create-order", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 49, body["amount"])

		_, _ = w.Write([]byte(`{"id":"order_1","amount":4900,"currency":"INR"}`))
	})

	order, err := client.CreateOrder(context.Background(), 49)
	require.NoError(t, err)
	assert.Equal(t, &Order{ID: "order_1", Amount: 4900, Currency: "INR"}, order)
}

func TestCreateOrderWithoutID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"amount":4900}`))
	})

	_, err := client.CreateOrder(context.Background(), 49)
	assert.Error(t, err)
}

func TestVerifyPayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment/verify-payment", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{
			"razorpay_order_id":   "order_1",
			"razorpay_payment_id": "pay_1",
			"razorpay_signature":  "sig",
			"userEmail":           "a@b.c",
			"date":                "2025-03-10",
			"time":                "10:00",
		}, body)

		_, _ = w.Write([]byte(`{"success":false}`))
	})

	resp, err := client.VerifyPayment(context.Background(), VerifyRequest{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: "sig",
		UserEmail: "a@b.c",
		Date:      slots.Date{Year: 2025, Month: time.March, Day: 10},
		Time:      slots.Clock{Hour: 10},
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestUpdateProfile(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/update", r.URL.Path)
			var body ProfileUpdate
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Asha Rao", body.Name)
			_, _ = w.Write([]byte(`{"success":true}`))
		})

		err := client.UpdateProfile(context.Background(), ProfileUpdate{Email: "a@b.c", Name: "Asha Rao", College: "IIT"})
		assert.NoError(t, err)
	})

	t.Run("rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"message":"user not found"}`))
		})

		err := client.UpdateProfile(context.Background(), ProfileUpdate{Email: "a@b.c"})
		assert.ErrorContains(t, err, "user not found")
	})
}

func TestSeparateAuthBaseURL(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer auth.Close()

	client := NewClient("http://127.0.0.1:1", auth.URL, "", time.Second)
	days, err := client.FetchAvailability(context.Background())
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestRequestHonoursContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchAvailability(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
