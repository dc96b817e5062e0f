package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"slotsync/internal/backend"
)

// Proof is what the payment gateway hands back after a successful payment.
type Proof struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Prefill is the checkout context shown by the gateway.
type Prefill struct {
	Order       backend.Order
	Description string
	Name        string
	Email       string
}

// Gateway collects a payment for an order. Open returns an error wrapping
// booking.ErrPaymentCancelled when the user dismisses the checkout.
type Gateway interface {
	Open(ctx context.Context, p Prefill) (Proof, error)
}

// Sign computes the Razorpay-style signature of an order and payment.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks proof against secret.
func VerifySignature(secret string, proof Proof) bool {
	expected := Sign(secret, proof.OrderID, proof.PaymentID)
	return hmac.Equal([]byte(expected), []byte(proof.Signature))
}

// DevGateway approves every order. It stands in for a real gateway in local
// setups whose backend verifies with the same secret.
type DevGateway struct {
	Secret string
}

func (g DevGateway) Open(ctx context.Context, p Prefill) (Proof, error) {
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}
	paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	return Proof{
		OrderID:   p.Order.ID,
		PaymentID: paymentID,
		Signature: Sign(g.Secret, p.Order.ID, paymentID),
	}, nil
}
