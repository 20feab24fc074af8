package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srgjo27/travel_booking/internal/adapter/events"
	"github.com/srgjo27/travel_booking/internal/adapter/handler"
	"github.com/srgjo27/travel_booking/internal/adapter/repository/memory"
	"github.com/srgjo27/travel_booking/internal/core/services"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, cfg handler.RouterConfig) http.Handler {
	t.Helper()

	store := memory.NewStore()
	now := func() time.Time { return time.Date(2024, 12, 31, 9, 0, 0, 0, time.UTC) }

	bookingSvc := services.NewBookingService(store, store, nil, events.NoopPublisher{}, services.Options{Now: now})
	inventorySvc := services.NewInventoryService(store, nil)

	return handler.NewRouter(
		handler.NewBookingHandler(bookingSvc),
		handler.NewInventoryHandler(inventorySvc),
		cfg,
	)
}

func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createItem(t *testing.T, h http.Handler, kind string, capacity int, token string) string {
	t.Helper()

	rec := do(t, h, http.MethodPost, "/items", map[string]any{
		"kind":     kind,
		"name":     "Lake Toba Day Trip",
		"capacity": capacity,
		"price":    100,
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["id"].(string)
}

func token(t *testing.T, sub, role string) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})

	rec := do(t, h, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestCreateBooking_Admitted(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})
	itemID := createItem(t, h, "tour", 5, "")

	rec := do(t, h, http.MethodPost, "/bookings", map[string]any{
		"item_id":      itemID,
		"requester_id": uuid.NewString(),
		"quantity":     3,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["admitted"])
	assert.NotEmpty(t, body["booking_id"])
	assert.Equal(t, float64(2), body["updated_capacity_remaining"])
	assert.Equal(t, float64(300), body["total_amount"])
}

func TestCreateBooking_RejectionStatuses(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})
	itemID := createItem(t, h, "tour", 2, "")

	tests := []struct {
		name       string
		itemID     string
		quantity   int
		start, end string
		wantStatus int
		wantReason string
	}{
		{"capacity exceeded", itemID, 3, "", "", http.StatusBadRequest, "CapacityExceeded"},
		{"invalid quantity", itemID, 0, "", "", http.StatusBadRequest, "InvalidQuantity"},
		{"inverted range", itemID, 1, "2025-01-05", "2025-01-03", http.StatusBadRequest, "InvalidDateRange"},
		{"past date", itemID, 1, "2024-12-01", "", http.StatusBadRequest, "DateInPast"},
		{"unknown item", uuid.NewString(), 1, "", "", http.StatusNotFound, "InventoryUnavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/bookings", map[string]any{
				"item_id":      tt.itemID,
				"requester_id": uuid.NewString(),
				"quantity":     tt.quantity,
				"start_date":   tt.start,
				"end_date":     tt.end,
			}, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			body := decode(t, rec)
			assert.Equal(t, false, body["admitted"])
			assert.Equal(t, tt.wantReason, body["reason"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestCreateBooking_MalformedBodies(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})

	rec := do(t, h, http.MethodPost, "/bookings", `{"item_id":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid json body", decode(t, rec)["error"])

	rec = do(t, h, http.MethodPost, "/bookings", map[string]any{"item_id": uuid.NewString(), "seat": 4}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/bookings", map[string]any{"item_id": uuid.NewString(), "quantity": 1}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "requester_id failed required")
}

func TestBookingLifecycle(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})
	itemID := createItem(t, h, "tour", 4, "")
	requester := uuid.NewString()

	rec := do(t, h, http.MethodPost, "/bookings", map[string]any{
		"item_id":      itemID,
		"requester_id": requester,
		"quantity":     2,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bookingID := decode(t, rec)["booking_id"].(string)

	rec = do(t, h, http.MethodGet, "/bookings/"+bookingID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", decode(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/requesters/"+requester+"/bookings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, h, http.MethodPatch, "/bookings/"+bookingID+"/status", map[string]any{"status": "confirmed"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CONFIRMED", decode(t, rec)["status"])

	rec = do(t, h, http.MethodPost, "/bookings/"+bookingID+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(4), decode(t, rec)["capacity_remaining"])

	rec = do(t, h, http.MethodPost, "/bookings/"+bookingID+"/cancel", nil, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "AlreadyTerminal", decode(t, rec)["reason"])

	rec = do(t, h, http.MethodPatch, "/bookings/"+bookingID+"/status", map[string]any{"status": "COMPLETED"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookingNotFound(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})

	rec := do(t, h, http.MethodGet, "/bookings/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/bookings/"+uuid.NewString()+"/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/bookings/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItems_DeactivateHidesFromListing(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})
	itemID := createItem(t, h, "car", 3, "")

	rec := do(t, h, http.MethodGet, "/items/"+itemID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "per_day", decode(t, rec)["pricing_unit"])

	rec = do(t, h, http.MethodDelete, "/items/"+itemID, nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/items", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/items?active=false&kind=car", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	rec = do(t, h, http.MethodPost, "/items/"+itemID+"/activate", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/items?active=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateItem_Validation(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})

	rec := do(t, h, http.MethodPost, "/items", map[string]any{
		"kind":     "cruise",
		"name":     "Harbour cruise",
		"capacity": 10,
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "kind failed oneof")
}

func TestAuth_RequiresBearerToken(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{JWTSecret: testSecret})

	rec := do(t, h, http.MethodPost, "/bookings", map[string]any{"item_id": uuid.NewString(), "quantity": 1}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/bookings", map[string]any{"item_id": uuid.NewString(), "quantity": 1}, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/items", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RequesterComesFromToken(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{JWTSecret: testSecret})
	admin := token(t, uuid.NewString(), handler.RoleAdmin)
	itemID := createItem(t, h, "tour", 5, admin)

	requester := uuid.NewString()
	userToken := token(t, requester, "customer")

	rec := do(t, h, http.MethodPost, "/bookings", map[string]any{"item_id": itemID, "quantity": 1}, userToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bookingID := decode(t, rec)["booking_id"].(string)

	rec = do(t, h, http.MethodGet, "/bookings/"+bookingID, nil, userToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, requester, decode(t, rec)["requester_id"])

	rec = do(t, h, http.MethodPost, "/bookings", map[string]any{
		"item_id":      itemID,
		"requester_id": uuid.NewString(),
		"quantity":     1,
	}, userToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	otherToken := token(t, uuid.NewString(), "customer")
	rec = do(t, h, http.MethodPost, "/bookings/"+bookingID+"/cancel", nil, otherToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/requesters/"+requester+"/bookings", nil, otherToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuth_AdminRoutes(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{JWTSecret: testSecret})

	rec := do(t, h, http.MethodPost, "/items", map[string]any{
		"kind":     "tour",
		"name":     "City walk",
		"capacity": 10,
	}, token(t, uuid.NewString(), "customer"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	createItem(t, h, "tour", 10, token(t, uuid.NewString(), handler.RoleAdmin))
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})

	rec := do(t, h, http.MethodGet, "/items", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/items", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", decode(t, rec)["error"])

	rec = do(t, h, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBooking_FractionalQuantity(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})
	itemID := createItem(t, h, "tour", 5, "")

	body := `{"item_id":"` + itemID + `","requester_id":"` + uuid.NewString() + `","quantity":1.5}`
	rec := do(t, h, http.MethodPost, "/bookings", body, "")
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.Equal(t, false, resp["admitted"])
	assert.Equal(t, "InvalidQuantity", resp["reason"])
}

func TestCreateBooking_FreeItemIncludesTotal(t *testing.T) {
	h := newTestServer(t, handler.RouterConfig{})

	rec := do(t, h, http.MethodPost, "/items", map[string]any{
		"kind":     "tour",
		"name":     "Free walking tour",
		"capacity": 3,
		"price":    0,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	itemID := decode(t, rec)["id"].(string)

	rec = do(t, h, http.MethodPost, "/bookings", map[string]any{
		"item_id":      itemID,
		"requester_id": uuid.NewString(),
		"quantity":     1,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	require.Contains(t, resp, "total_amount")
	assert.Equal(t, float64(0), resp["total_amount"])
}
