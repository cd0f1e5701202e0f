package mpesa

import (
	"fmt"
	"strconv"
	"time"
)

// CallbackEnvelope is Daraja's native callback body, delivered to our
// callback URL once the customer acts on the PIN prompt (or the push
// times out). Gateways retry delivery, so handlers must be idempotent.
type CallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem values arrive untyped: receipt numbers as strings, amounts
// and timestamps as JSON numbers.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

func (c *STKCallback) Succeeded() bool {
	return c.ResultCode == 0
}

func (c *STKCallback) item(name string) (interface{}, bool) {
	if c.CallbackMetadata == nil {
		return nil, false
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == name {
			return item.Value, true
		}
	}
	return nil, false
}

// ReceiptNumber returns the MpesaReceiptNumber item, present on success.
func (c *STKCallback) ReceiptNumber() string {
	if v, ok := c.item("MpesaReceiptNumber"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Amount returns the confirmed amount, or 0 when absent.
func (c *STKCallback) Amount() int64 {
	if v, ok := c.item("Amount"); ok {
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	}
	return 0
}

// TransactionDate parses the gateway-reported completion time
// (numeric YYYYMMDDHHMMSS). Returns nil when absent or malformed.
func (c *STKCallback) TransactionDate() *time.Time {
	v, ok := c.item("TransactionDate")
	if !ok {
		return nil
	}

	var raw string
	switch val := v.(type) {
	case float64:
		raw = strconv.FormatInt(int64(val), 10)
	case string:
		raw = val
	default:
		return nil
	}

	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

// CallbackAck is the minimal acknowledgement Daraja expects. Returning it
// with HTTP 200 stops redelivery.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func AcceptedAck() CallbackAck {
	return CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}
}

func (c *STKCallback) String() string {
	return fmt.Sprintf("stkCallback{checkout=%s result=%d}", c.CheckoutRequestID, c.ResultCode)
}
