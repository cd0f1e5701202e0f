package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"membership-svc/models"
	"membership-svc/store"
)

// mockProducer records published messages instead of talking to Kafka.
type mockProducer struct {
	sent []*sarama.ProducerMessage
}

func (m *mockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.sent = append(m.sent, msg)
	return 0, int64(len(m.sent)), nil
}

func (m *mockProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	m.sent = append(m.sent, msgs...)
	return nil
}

func (m *mockProducer) Close() error { return nil }

func (m *mockProducer) TxnStatus() sarama.ProducerTxnStatusFlag { return sarama.ProducerTxnFlagReady }
func (m *mockProducer) IsTransactional() bool                   { return false }
func (m *mockProducer) BeginTxn() error                         { return nil }
func (m *mockProducer) CommitTxn() error                        { return nil }
func (m *mockProducer) AbortTxn() error                         { return nil }
func (m *mockProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}
func (m *mockProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func newCallbackTest(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *mockProducer, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zap.NewNop()
	producer := &mockProducer{}
	// Cache invalidation failures are ignored by the handler, so an
	// unreachable client is fine here.
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:1"})

	handler := NewCallbackHandler(
		store.NewLedgerStore(db, logger),
		store.NewMembershipStore(db, logger),
		producer,
		redisClient,
		logger,
	)

	router := gin.New()
	router.POST("/payments/callback", handler.HandleCallback)
	return router, mock, producer, func() { db.Close() }
}

func postCallback(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const successCallback = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-1",
			"CheckoutRequestID": "ws_CO_123",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 1500.00},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20250115093045},
					{"Name": "PhoneNumber", "Value": 254712345678}
				]
			}
		}
	}
}`

const failedCallback = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-1",
			"CheckoutRequestID": "ws_CO_123",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user."
		}
	}
}`

var txCols = []string{"id", "user_id", "phone_number", "amount", "checkout_request_id", "merchant_request_id", "status", "receipt_number", "transaction_date", "created_at", "updated_at"}
var memberCols = []string{"id", "user_id", "status", "payment_reference", "amount", "currency", "payment_method", "paid_at", "expires_at", "created_at", "updated_at"}

func TestHandleCallback_SuccessActivatesMembership(t *testing.T) {
	router, mock, producer, cleanup := newCallbackTest(t)
	defer cleanup()

	now := time.Now()
	txDate := time.Date(2025, 1, 15, 9, 30, 45, 0, time.UTC)
	expiresAt := txDate.Add(models.MembershipDuration)

	mock.ExpectQuery("UPDATE transactions SET status").
		WithArgs("ws_CO_123", models.TransactionStatusSuccess, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(7, "user-1", "254712345678", 1500, "ws_CO_123", "29115-1", "success", "NLJ7RT61SV", txDate, now, now))
	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs("user-1", "NLJ7RT61SV", int64(1500), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(memberCols).
			AddRow(3, "user-1", "paid", "NLJ7RT61SV", 1500, "KES", "mpesa", txDate, expiresAt, now, now))

	w := postCallback(router, successCallback)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	// One event for the activation, one for the payment outcome.
	if len(producer.sent) != 2 {
		t.Errorf("Expected 2 published events, got %d", len(producer.sent))
	}
	for _, msg := range producer.sent {
		if msg.Topic != "payment_events" {
			t.Errorf("Expected topic payment_events, got %s", msg.Topic)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestHandleCallback_FailureDoesNotActivate(t *testing.T) {
	router, mock, producer, cleanup := newCallbackTest(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("UPDATE transactions SET status").
		WithArgs("ws_CO_123", models.TransactionStatusFailed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(7, "user-1", "254712345678", 1500, "ws_CO_123", "29115-1", "failed", nil, nil, now, now))

	w := postCallback(router, failedCallback)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(producer.sent) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(producer.sent))
	}

	value, err := producer.sent[0].Value.Encode()
	if err != nil {
		t.Fatalf("Failed to encode event payload: %v", err)
	}
	if !bytes.Contains(value, []byte("payment_failed")) {
		t.Errorf("Expected payment_failed event, got %s", value)
	}

	// No membership activity was mocked; any would fail expectations.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database activity: %v", err)
	}
}

func TestHandleCallback_DuplicateDelivery(t *testing.T) {
	router, mock, producer, cleanup := newCallbackTest(t)
	defer cleanup()

	now := time.Now()
	txDate := time.Date(2025, 1, 15, 9, 30, 45, 0, time.UTC)
	expiresAt := txDate.Add(models.MembershipDuration)

	// Already finalized with the same outcome: no transition.
	mock.ExpectQuery("UPDATE transactions SET status").
		WithArgs("ws_CO_123", models.TransactionStatusSuccess, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(txCols))
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE checkout_request_id").
		WithArgs("ws_CO_123").
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(7, "user-1", "254712345678", 1500, "ws_CO_123", "29115-1", "success", "NLJ7RT61SV", txDate, now, now))

	// Activation still runs but the receipt is already applied.
	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs("user-1", "NLJ7RT61SV", int64(1500), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(memberCols))
	mock.ExpectQuery("SELECT (.+) FROM memberships WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(memberCols).
			AddRow(3, "user-1", "paid", "NLJ7RT61SV", 1500, "KES", "mpesa", txDate, expiresAt, now, now))

	w := postCallback(router, successCallback)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(producer.sent) != 0 {
		t.Errorf("Expected no events on duplicate delivery, got %d", len(producer.sent))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestHandleCallback_ConflictingOutcome(t *testing.T) {
	router, mock, producer, cleanup := newCallbackTest(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("UPDATE transactions SET status").
		WithArgs("ws_CO_123", models.TransactionStatusFailed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(txCols))
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE checkout_request_id").
		WithArgs("ws_CO_123").
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(7, "user-1", "254712345678", 1500, "ws_CO_123", "29115-1", "success", "NLJ7RT61SV", now, now, now))

	w := postCallback(router, failedCallback)

	// The stored outcome stands; acknowledge so the gateway stops retrying.
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(producer.sent) != 0 {
		t.Errorf("Expected no events on conflicting outcome, got %d", len(producer.sent))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestHandleCallback_UnknownCheckoutID(t *testing.T) {
	router, mock, producer, cleanup := newCallbackTest(t)
	defer cleanup()

	mock.ExpectQuery("UPDATE transactions SET status").
		WithArgs("ws_CO_123", models.TransactionStatusSuccess, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(txCols))
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE checkout_request_id").
		WithArgs("ws_CO_123").
		WillReturnRows(sqlmock.NewRows(txCols))

	w := postCallback(router, successCallback)

	// Unknown pushes are acknowledged, never retried into a 5xx loop.
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(producer.sent) != 0 {
		t.Errorf("Expected no events for an unknown push, got %d", len(producer.sent))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestHandleCallback_MalformedBody(t *testing.T) {
	router, _, producer, cleanup := newCallbackTest(t)
	defer cleanup()

	w := postCallback(router, `not json`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if len(producer.sent) != 0 {
		t.Errorf("Expected no events for a malformed body, got %d", len(producer.sent))
	}
}
