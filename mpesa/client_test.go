package mpesa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"membership-svc/config"
	"membership-svc/models"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	cfg := &config.Config{
		MpesaBaseURL:        serverURL,
		MpesaConsumerKey:    "key",
		MpesaConsumerSecret: "secret",
	}
	return NewClient(cfg, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
}

func paymentCode(t *testing.T, err error) models.ErrorCode {
	t.Helper()
	var perr *models.PaymentError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected PaymentError, got %v", err)
	}
	return perr.Code
}

func TestClient_GetToken_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			t.Errorf("Expected basic auth with service credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token-abc","expires_in":"3599"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	token, err := client.GetToken(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if token != "token-abc" {
		t.Errorf("Expected token-abc, got %s", token)
	}
}

func TestClient_GetToken_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetToken(context.Background())
	if code := paymentCode(t, err); code != models.ErrCodeTokenFailed {
		t.Errorf("Expected TOKEN_FAILED, got %s", code)
	}
}

func TestClient_GetToken_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetToken(context.Background())
	if code := paymentCode(t, err); code != models.ErrCodeTokenParse {
		t.Errorf("Expected TOKEN_PARSE_ERROR, got %s", code)
	}
}

func TestClient_GetToken_MissingTokenField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expires_in":"3599"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetToken(context.Background())
	if code := paymentCode(t, err); code != models.ErrCodeNoAccessToken {
		t.Errorf("Expected NO_ACCESS_TOKEN, got %s", code)
	}
}

func TestClient_GetToken_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := newTestClient(t, server.URL)
	_, err := client.GetToken(context.Background())
	if code := paymentCode(t, err); code != models.ErrCodeTokenFailed {
		t.Errorf("Expected TOKEN_FAILED, got %s", code)
	}
}

func TestClient_SubmitPush_Accepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Errorf("Expected bearer token on push, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	req := NewSTKPushRequest("174379", "passkey", "254712345678", 1500, "user-1", "https://example.com/cb", time.Now())

	resp, err := client.SubmitPush(context.Background(), "token-abc", req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !resp.Accepted() {
		t.Errorf("Expected acknowledgement to be accepted")
	}
	if resp.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Errorf("Unexpected checkout request id: %s", resp.CheckoutRequestID)
	}
}

func TestClient_SubmitPush_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"requestId":"1234","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid CallBackURL"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	req := NewSTKPushRequest("174379", "passkey", "254712345678", 1500, "user-1", "https://example.com/cb", time.Now())

	resp, err := client.SubmitPush(context.Background(), "token-abc", req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Accepted() {
		t.Errorf("Expected rejection")
	}
	if resp.GatewayCode() != "400.002.02" {
		t.Errorf("Expected gateway code preserved, got %s", resp.GatewayCode())
	}
}

func TestClient_SubmitPush_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway maintenance</html>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	req := NewSTKPushRequest("174379", "passkey", "254712345678", 1500, "user-1", "https://example.com/cb", time.Now())

	_, err := client.SubmitPush(context.Background(), "token-abc", req)
	if code := paymentCode(t, err); code != models.ErrCodeSTKParse {
		t.Errorf("Expected STK_PARSE_ERROR, got %s", code)
	}
}
