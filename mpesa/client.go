package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"membership-svc/config"
	"membership-svc/models"
)

// Gateway is the narrow surface the payment flow needs from Daraja, so the
// REST protocol stays out of the transaction state machine and tests can
// substitute a fake.
type Gateway interface {
	GetToken(ctx context.Context) (string, error)
	SubmitPush(ctx context.Context, token string, req *STKPushRequest) (*STKPushResponse, error)
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	logger         *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseURL:        cfg.MpesaBaseURL,
		consumerKey:    cfg.MpesaConsumerKey,
		consumerSecret: cfg.MpesaConsumerSecret,
		logger:         logger,
	}
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// GetToken exchanges the service credentials for a short-lived bearer token.
// Tokens are fetched per push; failures are reported, never retried here.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	url := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &models.PaymentError{Code: models.ErrCodeTokenFailed, Message: "failed to build token request", Err: err}
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &models.PaymentError{Code: models.ErrCodeTokenFailed, Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &models.PaymentError{Code: models.ErrCodeTokenFailed, Message: "failed to read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Token endpoint rejected credentials", zap.Int("status", resp.StatusCode))
		return "", &models.PaymentError{
			Code:    models.ErrCodeTokenFailed,
			Message: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode),
		}
	}

	var tokenResp accessTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", &models.PaymentError{Code: models.ErrCodeTokenParse, Message: "failed to parse token response", Err: err}
	}
	if tokenResp.AccessToken == "" {
		return "", models.NewPaymentError(models.ErrCodeNoAccessToken, "token response did not contain an access token")
	}

	return tokenResp.AccessToken, nil
}

// SubmitPush sends the STK push request and returns the gateway's
// synchronous acknowledgement. The caller decides what a rejection means.
func (c *Client) SubmitPush(ctx context.Context, token string, pushReq *STKPushRequest) (*STKPushResponse, error) {
	payload, err := json.Marshal(pushReq)
	if err != nil {
		return nil, &models.PaymentError{Code: models.ErrCodeSTKFailed, Message: "failed to encode push request", Err: err}
	}

	url := c.baseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, &models.PaymentError{Code: models.ErrCodeSTKFailed, Message: "failed to build push request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.PaymentError{Code: models.ErrCodeSTKFailed, Message: "push request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.PaymentError{Code: models.ErrCodeSTKParse, Message: "failed to read push response", Err: err}
	}

	var pushResp STKPushResponse
	if err := json.Unmarshal(body, &pushResp); err != nil {
		return nil, &models.PaymentError{Code: models.ErrCodeSTKParse, Message: "failed to parse push response", Err: err}
	}

	c.logger.Info("STK push acknowledged",
		zap.String("checkout_request_id", pushResp.CheckoutRequestID),
		zap.String("response_code", pushResp.GatewayCode()),
	)
	return &pushResp, nil
}
