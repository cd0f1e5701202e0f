package mpesa

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"membership-svc/models"
)

// timestampLayout is the format Daraja uses when verifying the push
// password. It must be whole seconds, local gateway time.
const timestampLayout = "20060102150405"

const transactionDesc = "Premium membership subscription"

var phonePattern = regexp.MustCompile(`^(0|254)\d{9}$`)

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	// Set instead of the fields above when Daraja rejects the request.
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Accepted reports whether the gateway acknowledged the push. This is not
// proof of payment, only that the customer's phone was prompted.
func (r *STKPushResponse) Accepted() bool {
	return r.ResponseCode == "0"
}

// GatewayCode returns whichever code Daraja used to describe a rejection.
func (r *STKPushResponse) GatewayCode() string {
	if r.ResponseCode != "" {
		return r.ResponseCode
	}
	return r.ErrorCode
}

// NormalizePhone canonicalizes a Kenyan mobile number to 254XXXXXXXXX.
// Accepts the local 0XXXXXXXXX form and the international form; anything
// else is rejected before any network call.
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if !phonePattern.MatchString(phone) {
		return "", models.NewPaymentError(models.ErrCodeInvalidPhone, "phone number must match 0XXXXXXXXX or 254XXXXXXXXX")
	}
	if strings.HasPrefix(phone, "0") {
		return "254" + phone[1:], nil
	}
	return phone, nil
}

// Password derives the push password Daraja verifies:
// base64(shortcode + passkey + timestamp).
func Password(shortcode, passkey string, t time.Time) (password, timestamp string) {
	timestamp = t.Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
	return password, timestamp
}

// NewSTKPushRequest assembles the push payload for one membership charge.
// phone must already be normalized. Pure except for the supplied clock value.
func NewSTKPushRequest(shortcode, passkey, phone string, amount int64, userID, callbackURL string, now time.Time) *STKPushRequest {
	password, timestamp := Password(shortcode, passkey, now)
	return &STKPushRequest{
		BusinessShortCode: shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            shortcode,
		PhoneNumber:       phone,
		CallBackURL:       callbackURL,
		AccountReference:  accountReference(userID),
		TransactionDesc:   transactionDesc,
	}
}

// accountReference derives the statement reference from the user id.
// Daraja caps the field at 12 characters.
func accountReference(userID string) string {
	if len(userID) > 12 {
		return userID[:12]
	}
	return userID
}
