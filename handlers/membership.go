package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"membership-svc/cache"
	"membership-svc/models"
	"membership-svc/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type MembershipHandler struct {
	memberships *store.MembershipStore
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewMembershipHandler(memberships *store.MembershipStore, redisClient *redis.Client, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{
		memberships: memberships,
		redisClient: redisClient,
		logger:      logger,
	}
}

// GetMembership is the read path clients poll after initiating a payment.
// There is no server push; correctness lives in the callback flow, this is
// only how the requester discovers it.
func (h *MembershipHandler) GetMembership(c *gin.Context) {
	ctx, span := otel.Tracer("membership-service").Start(c.Request.Context(), "GetMembership")
	defer span.End()

	userID := c.Param("user_id")
	span.SetAttributes(attribute.String("user.id", userID))

	// Try to get from cache first
	cachedData, err := cache.GetMembership(ctx, h.redisClient, userID)
	if err == nil {
		var membership models.Membership
		if err := json.Unmarshal(cachedData, &membership); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			c.JSON(http.StatusOK, membership)
			return
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	membership, err := h.memberships.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		// Users with no payment history read as free.
		c.JSON(http.StatusOK, models.Membership{
			UserID:        userID,
			Status:        models.MembershipStatusFree,
			Currency:      "KES",
			PaymentMethod: "mpesa",
		})
		return
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch membership", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cache.SetMembership(ctx, h.redisClient, userID, membership, cache.MembershipTTL)

	c.JSON(http.StatusOK, membership)
}
