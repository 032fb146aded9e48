package stockops

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store *memoryLedger) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, newTestService(store, nil), validator.New())
	r := chi.NewRouter()
	r.Route("/stock", h.MountRoutes)
	return r
}

func TestHandlerStockInCreatesRecord(t *testing.T) {
	store := newMemoryLedger()
	router := newTestRouter(store)

	body := `{"product_id":1,"warehouse_id":2,"quantity":"10","unit_price":"2500"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stock/in", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rr.Code)
	var resp stockRecordResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "10", resp.Quantity)
	require.Equal(t, "2500", resp.AverageCost)
	require.Len(t, store.movements, 1)
}

func TestHandlerStockOutConflictOnInsufficientStock(t *testing.T) {
	router := newTestRouter(newMemoryLedger())

	body := `{"product_id":1,"warehouse_id":2,"quantity":"5"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stock/out", strings.NewReader(body)))

	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerRejectsMalformedQuantity(t *testing.T) {
	router := newTestRouter(newMemoryLedger())

	body := `{"product_id":1,"warehouse_id":2,"quantity":"ten"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stock/in", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerReservationRoundTrip(t *testing.T) {
	store := newMemoryLedger()
	router := newTestRouter(store)

	seed := `{"product_id":1,"warehouse_id":2,"quantity":"100"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stock/in", strings.NewReader(seed)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stock/reservations", strings.NewReader(`{"product_id":1,"warehouse_id":2,"quantity":"40"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp stockRecordResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "40", resp.ReservedQuantity)
	require.Equal(t, "60", resp.AvailableQuantity)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stock/releases", strings.NewReader(`{"product_id":1,"warehouse_id":2,"quantity":"40"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "0", resp.ReservedQuantity)
}
