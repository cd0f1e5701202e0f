package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"membership-svc/cache"
	"membership-svc/kafka"
	"membership-svc/middleware"
	"membership-svc/models"
	"membership-svc/mpesa"
	"membership-svc/store"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const paymentEventsTopic = "payment_events"

type CallbackHandler struct {
	ledger      *store.LedgerStore
	memberships *store.MembershipStore
	producer    sarama.SyncProducer
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewCallbackHandler(ledger *store.LedgerStore, memberships *store.MembershipStore, producer sarama.SyncProducer, redisClient *redis.Client, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		ledger:      ledger,
		memberships: memberships,
		producer:    producer,
		redisClient: redisClient,
		logger:      logger,
	}
}

// HandleCallback is invoked by the gateway, not by users, and may be
// invoked more than once for the same push. Completed processing always
// answers 200 so Daraja stops redelivering; only a storage fault answers
// 5xx to request a retry.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	ctx, span := otel.Tracer("membership-service").Start(c.Request.Context(), "PaymentCallback")
	defer span.End()

	var envelope mpesa.CallbackEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		span.RecordError(err)
		h.logger.Warn("Malformed gateway callback", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid callback body"})
		return
	}

	cb := envelope.Body.StkCallback
	traceID := middleware.GetTraceID(ctx)

	span.SetAttributes(
		attribute.String("checkout.request.id", cb.CheckoutRequestID),
		attribute.Int("result.code", cb.ResultCode),
	)

	h.logger.Info("Gateway callback received",
		zap.String("trace_id", traceID),
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.Int("result_code", cb.ResultCode),
		zap.String("result_desc", cb.ResultDesc),
	)

	outcome := models.TransactionStatusFailed
	receipt := ""
	var txDate *time.Time
	if cb.Succeeded() {
		outcome = models.TransactionStatusSuccess
		receipt = cb.ReceiptNumber()
		txDate = cb.TransactionDate()
	}

	tx, applied, err := h.ledger.Finalize(ctx, cb.CheckoutRequestID, outcome, receipt, txDate)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// No local row for this push: either the pending write was lost
		// after the push went out, or this is not our transaction. Answer
		// 200 anyway so the gateway stops retrying, and leave a trail.
		middleware.RecordPaymentCallback("unknown_checkout_id")
		h.logger.Error("Callback for unknown checkout request id",
			zap.String("trace_id", traceID),
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Int("result_code", cb.ResultCode),
		)
		c.JSON(http.StatusOK, mpesa.AcceptedAck())
		return
	case errors.Is(err, store.ErrConflictingOutcome):
		// Terminal status never changes; the stored outcome stands.
		middleware.RecordPaymentCallback("conflicting_outcome")
		c.JSON(http.StatusOK, mpesa.AcceptedAck())
		return
	case err != nil:
		span.RecordError(err)
		middleware.RecordPaymentCallback("error")
		h.logger.Error("Failed to finalize transaction",
			zap.String("trace_id", traceID),
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if outcome == models.TransactionStatusSuccess {
		// Activation runs on duplicate deliveries too: it is a no-op for
		// a receipt already applied, and it closes the window where a
		// crash after finalize left the membership unpaid.
		paidAt := time.Now()
		if tx.TransactionDate != nil {
			paidAt = *tx.TransactionDate
		}

		membership, activated, err := h.memberships.Activate(ctx, tx.UserID, tx.ReceiptNumber, tx.Amount, paidAt)
		if err != nil {
			span.RecordError(err)
			middleware.RecordPaymentCallback("error")
			h.logger.Error("Failed to activate membership",
				zap.String("trace_id", traceID),
				zap.String("user_id", tx.UserID),
				zap.String("checkout_request_id", tx.CheckoutRequestID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		if activated {
			middleware.RecordMembershipActivated()
			cache.DeleteMembership(ctx, h.redisClient, tx.UserID)
			h.publishEvent(ctx, tx, "membership_activated")
			h.logger.Info("Membership activated from callback",
				zap.String("trace_id", traceID),
				zap.String("user_id", tx.UserID),
				zap.Timep("expires_at", membership.ExpiresAt),
			)
		}
	}

	if applied {
		eventType := "payment_success"
		if outcome == models.TransactionStatusFailed {
			eventType = "payment_failed"
		}
		h.publishEvent(ctx, tx, eventType)
		middleware.RecordPaymentCallback(string(outcome))
	} else {
		middleware.RecordPaymentCallback("duplicate")
	}

	c.JSON(http.StatusOK, mpesa.AcceptedAck())
}

// publishEvent emits the outcome for downstream consumers; publishing
// failure never fails the callback.
func (h *CallbackHandler) publishEvent(ctx context.Context, tx *models.Transaction, eventType string) {
	event := models.PaymentEvent{
		TransactionID:     tx.ID,
		UserID:            tx.UserID,
		Amount:            tx.Amount,
		Status:            tx.Status,
		EventType:         eventType,
		CheckoutRequestID: tx.CheckoutRequestID,
		ReceiptNumber:     tx.ReceiptNumber,
	}

	if err := kafka.PublishPaymentEvent(ctx, h.producer, paymentEventsTopic, event, h.logger); err != nil {
		h.logger.Error("Failed to publish payment event",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
