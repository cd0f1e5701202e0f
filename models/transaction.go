package models

import "time"

type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// Transaction is one STK push attempt. A row is created when the gateway
// accepts the push and moves to a terminal status exactly once, when the
// gateway callback arrives. Rows are never deleted.
type Transaction struct {
	ID                int               `json:"id"`
	UserID            string            `json:"user_id"`
	PhoneNumber       string            `json:"phone_number"`
	Amount            int64             `json:"amount"`
	CheckoutRequestID string            `json:"checkout_request_id"`
	MerchantRequestID string            `json:"merchant_request_id"`
	Status            TransactionStatus `json:"status"`
	ReceiptNumber     string            `json:"receipt_number,omitempty"`
	TransactionDate   *time.Time        `json:"transaction_date,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type InitiatePaymentRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	UserID      string `json:"userId" binding:"required"`
}

type InitiatePaymentResponse struct {
	Success           bool   `json:"success"`
	CheckoutRequestID string `json:"checkoutRequestId"`
}

type PaymentEvent struct {
	TransactionID     int               `json:"transaction_id"`
	UserID            string            `json:"user_id"`
	Amount            int64             `json:"amount"`
	Status            TransactionStatus `json:"status"`
	EventType         string            `json:"event_type"` // payment_success, payment_failed, membership_activated
	CheckoutRequestID string            `json:"checkout_request_id"`
	ReceiptNumber     string            `json:"receipt_number,omitempty"`
}
