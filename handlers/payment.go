package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"membership-svc/config"
	"membership-svc/middleware"
	"membership-svc/models"
	"membership-svc/mpesa"
	"membership-svc/store"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	cfg     *config.Config
	gateway mpesa.Gateway
	ledger  *store.LedgerStore
	logger  *zap.Logger
}

func NewPaymentHandler(cfg *config.Config, gateway mpesa.Gateway, ledger *store.LedgerStore, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		cfg:     cfg,
		gateway: gateway,
		ledger:  ledger,
		logger:  logger,
	}
}

// InitiatePayment asks the gateway to push a PIN prompt to the user's
// phone and records a pending transaction. A success response means the
// phone was prompted, not that the payment happened; the outcome arrives
// later on the callback route.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	ctx, span := otel.Tracer("membership-service").Start(c.Request.Context(), "InitiatePayment")
	defer span.End()

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error(), "errorCode": models.ErrCodeUnknown})
		return
	}

	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int64("amount", req.Amount),
	)

	// Fail fast on misconfiguration before touching the network.
	if perr := h.cfg.ValidateGateway(); perr != nil {
		h.respondError(c, perr)
		return
	}

	phone, err := mpesa.NormalizePhone(req.PhoneNumber)
	if err != nil {
		h.respondError(c, asPaymentError(err))
		return
	}

	token, err := h.gateway.GetToken(ctx)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, asPaymentError(err))
		return
	}

	pushReq := mpesa.NewSTKPushRequest(h.cfg.MpesaShortcode, h.cfg.MpesaPasskey,
		phone, req.Amount, req.UserID, h.cfg.CallbackURL, time.Now())

	ack, err := h.gateway.SubmitPush(ctx, token, pushReq)
	if err != nil {
		span.RecordError(err)
		middleware.RecordSTKPushInitiated("rejected")
		h.respondError(c, asPaymentError(err))
		return
	}

	if !ack.Accepted() {
		middleware.RecordSTKPushInitiated("rejected")
		traceID := middleware.GetTraceID(ctx)
		h.logger.Warn("STK push rejected by gateway",
			zap.String("trace_id", traceID),
			zap.String("gateway_code", ack.GatewayCode()),
			zap.String("description", ack.ResponseDescription),
		)
		h.respondError(c, &models.PaymentError{
			Code:    models.ErrCodeSTKFailed,
			Message: "gateway rejected the payment push",
			Details: map[string]interface{}{
				"gatewayCode": ack.GatewayCode(),
				"description": ack.ResponseDescription,
			},
		})
		return
	}

	tx := &models.Transaction{
		UserID:            req.UserID,
		PhoneNumber:       phone,
		Amount:            req.Amount,
		CheckoutRequestID: ack.CheckoutRequestID,
		MerchantRequestID: ack.MerchantRequestID,
		Status:            models.TransactionStatusPending,
	}

	// The push is already out; losing this row means an orphaned payment
	// only reconcilable through the callback anomaly log.
	if err := h.ledger.Create(ctx, tx); err != nil {
		span.RecordError(err)
		traceID := middleware.GetTraceID(ctx)
		h.logger.Error("Failed to persist pending transaction after accepted push",
			zap.String("trace_id", traceID),
			zap.String("checkout_request_id", ack.CheckoutRequestID),
			zap.Error(err),
		)
		h.respondError(c, &models.PaymentError{Code: models.ErrCodeDB, Message: "failed to record transaction", Err: err})
		return
	}

	middleware.RecordSTKPushInitiated("accepted")
	span.SetAttributes(attribute.String("checkout.request.id", ack.CheckoutRequestID))

	traceID := middleware.GetTraceID(ctx)
	h.logger.Info("STK push initiated",
		zap.String("trace_id", traceID),
		zap.String("user_id", req.UserID),
		zap.String("checkout_request_id", ack.CheckoutRequestID),
		zap.Int64("amount", req.Amount),
	)

	c.JSON(http.StatusOK, models.InitiatePaymentResponse{
		Success:           true,
		CheckoutRequestID: ack.CheckoutRequestID,
	})
}

// ListTransactions returns a user's recent payment attempts, newest first.
func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	ctx, span := otel.Tracer("membership-service").Start(c.Request.Context(), "ListTransactions")
	defer span.End()

	userID := c.Param("user_id")
	span.SetAttributes(attribute.String("user.id", userID))

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	transactions, err := h.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list transactions", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (h *PaymentHandler) respondError(c *gin.Context, perr *models.PaymentError) {
	body := gin.H{
		"success":   false,
		"error":     perr.Message,
		"errorCode": perr.Code,
	}
	if len(perr.Details) > 0 {
		body["details"] = perr.Details
	}
	c.JSON(statusForCode(perr.Code), body)
}

// statusForCode maps the stable error codes onto HTTP statuses: caller
// input gets 400, our misconfiguration and storage get 500, gateway
// trouble gets 502.
func statusForCode(code models.ErrorCode) int {
	switch code {
	case models.ErrCodeInvalidPhone:
		return http.StatusBadRequest
	case models.ErrCodeTokenFailed, models.ErrCodeTokenParse, models.ErrCodeNoAccessToken,
		models.ErrCodeSTKFailed, models.ErrCodeSTKParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func asPaymentError(err error) *models.PaymentError {
	var perr *models.PaymentError
	if errors.As(err, &perr) {
		return perr
	}
	return &models.PaymentError{Code: models.ErrCodeUnknown, Message: "unexpected error", Err: err}
}
