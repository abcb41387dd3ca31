package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmaflow/farmaflow-backend/internal/stock/handler"
	"github.com/farmaflow/farmaflow-backend/internal/stock/repository"
	"github.com/farmaflow/farmaflow-backend/internal/stock/service"
	"github.com/farmaflow/farmaflow-backend/pkg/httputil"
	"github.com/farmaflow/farmaflow-backend/pkg/logger"
	"github.com/farmaflow/farmaflow-backend/pkg/testutil"
)

var (
	integSuite     *testutil.IntegrationSuite
	integSuiteOnce sync.Once
	integSuiteErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	testutil.TerminateContainer(context.Background())
	os.Exit(code)
}

func suite(t *testing.T) *testutil.IntegrationSuite {
	t.Helper()
	testutil.SkipIfShort(t)

	integSuiteOnce.Do(func() {
		integSuite, integSuiteErr = testutil.NewIntegrationSuite(context.Background())
	})
	if integSuiteErr != nil {
		t.Fatalf("failed to set up integration suite: %v", integSuiteErr)
	}
	return integSuite
}

// newLotRouter wires the lot handler over real repositories the way
// main() does, minus messaging.
func newLotRouter(s *testutil.IntegrationSuite) chi.Router {
	log := logger.New("handler-test", "test")

	movementRepo := repository.NewMovementRepository(s.DB)
	lotRepo := repository.NewLotRepository(s.DB, movementRepo)
	productRepo := repository.NewProductRepository(s.DB)

	svc := service.NewStockService(lotRepo, movementRepo, productRepo, nil, 30, log)
	h := handler.NewLotHandler(svc, log)

	r := chi.NewRouter()
	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Route("/lots", func(r chi.Router) {
			r.Post("/", h.Create)
			r.Get("/{id}", h.Get)
			r.Post("/{id}/reserve", h.Reserve)
			r.Post("/{id}/release", h.Release)
			r.Post("/{id}/confirm", h.Confirm)
			r.Get("/{id}/movements", h.ListMovements)
		})
		r.Route("/products/{id}", func(r chi.Router) {
			r.Get("/lots", h.ListByProduct)
			r.Get("/allocation-plan", h.AllocationPlan)
		})
	})
	return r
}

func seedProduct(t *testing.T, s *testutil.IntegrationSuite, ctx context.Context) testutil.ProductFixture {
	t.Helper()
	product := s.Fixtures.Product()
	_, err := s.RawDB.ExecContext(ctx, `
		INSERT INTO products (id, name, barcode, sale_price, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, product.ID, product.Name, product.Barcode, product.SalePrice, product.IsActive)
	require.NoError(t, err)
	return product
}

func createLot(t *testing.T, r chi.Router, productID string, fixture testutil.LotFixture) string {
	t.Helper()
	body := map[string]interface{}{
		"product_id":       productID,
		"lot_number":       fixture.LotNumber,
		"barcode":          fixture.Barcode,
		"manufacture_date": fixture.ManufactureDate.Format(time.RFC3339),
		"expiry_date":      fixture.ExpiryDate.Format(time.RFC3339),
		"initial_quantity": fixture.InitialQuantity,
		"unit_cost":        fixture.UnitCost,
	}

	rr := doJSON(r, "POST", "/api/v1/stock/lots", body)
	require.Equal(t, http.StatusCreated, rr.Code, "lot creation failed. Body: %s", rr.Body.String())

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	return data["id"].(string)
}

func doJSON(r chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestLotLifecycleOverHTTP(t *testing.T) {
	s := suite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	router := newLotRouter(s)
	product := seedProduct(t, s, ctx)
	lotID := createLot(t, router, product.ID, s.Fixtures.Lot(product.ID))

	// Reserve 30 units.
	rr := doJSON(router, "POST", "/api/v1/stock/lots/"+lotID+"/reserve", map[string]interface{}{
		"quantity": 30,
		"reason":   "counter order",
	})
	assert.Equal(t, http.StatusOK, rr.Code, "reserve failed. Body: %s", rr.Body.String())

	// Confirm 30 units under a sale reference.
	rr = doJSON(router, "POST", "/api/v1/stock/lots/"+lotID+"/confirm", map[string]interface{}{
		"quantity": 30,
		"sale_ref": "SALE-HTTP-1",
	})
	assert.Equal(t, http.StatusOK, rr.Code, "confirm failed. Body: %s", rr.Body.String())

	// The lot reflects the consumption.
	rr = doJSON(router, "GET", "/api/v1/stock/lots/"+lotID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	lot := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(70), lot["current_quantity"])
	assert.Equal(t, float64(0), lot["reserved_quantity"])

	// The ledger holds entry, reserve and sale movements.
	rr = doJSON(router, "GET", "/api/v1/stock/lots/"+lotID+"/movements", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.([]interface{}), 3)
}

func TestReserveValidationOverHTTP(t *testing.T) {
	s := suite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	router := newLotRouter(s)
	product := seedProduct(t, s, ctx)
	lotID := createLot(t, router, product.ID, s.Fixtures.Lot(product.ID))

	// Zero quantity never reaches the database.
	rr := doJSON(router, "POST", "/api/v1/stock/lots/"+lotID+"/reserve", map[string]interface{}{
		"quantity": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "Body: %s", rr.Body.String())

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestReserveInsufficientStockOverHTTP(t *testing.T) {
	s := suite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	router := newLotRouter(s)
	product := seedProduct(t, s, ctx)
	lotID := createLot(t, router, product.ID, s.Fixtures.Lot(product.ID))

	rr := doJSON(router, "POST", "/api/v1/stock/lots/"+lotID+"/reserve", map[string]interface{}{
		"quantity": 500,
	})
	assert.Equal(t, http.StatusConflict, rr.Code, "Body: %s", rr.Body.String())

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Error.Code)
}

func TestGetLotNotFoundOverHTTP(t *testing.T) {
	s := suite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	router := newLotRouter(s)

	rr := doJSON(router, "GET", "/api/v1/stock/lots/7f000000-0000-4000-8000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "Body: %s", rr.Body.String())

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAllocationPlanOverHTTP(t *testing.T) {
	s := suite(t)
	ctx := testutil.DefaultTestContext(t)
	s.Reset(t, ctx)

	router := newLotRouter(s)
	product := seedProduct(t, s, ctx)

	// Two lots; the one expiring sooner must be drained first.
	soon := s.Fixtures.Lot(product.ID, testutil.WithExpiry(time.Now().AddDate(0, 1, 0)))
	later := s.Fixtures.Lot(product.ID, testutil.WithExpiry(time.Now().AddDate(1, 0, 0)))
	soonID := createLot(t, router, product.ID, soon)
	createLot(t, router, product.ID, later)

	url := fmt.Sprintf("/api/v1/stock/products/%s/allocation-plan?quantity=120", product.ID)
	rr := doJSON(router, "GET", url, nil)
	require.Equal(t, http.StatusOK, rr.Code, "Body: %s", rr.Body.String())

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	plan := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(120), plan["requested"])
	assert.Equal(t, float64(120), plan["allocated"])

	lines := plan["lines"].([]interface{})
	require.Len(t, lines, 2)
	first := lines[0].(map[string]interface{})
	assert.Equal(t, soonID, first["lot_id"])
	assert.Equal(t, float64(100), first["quantity"])

	// Planning never mutates stock.
	rr = doJSON(router, "GET", "/api/v1/stock/lots/"+soonID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	lot := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(100), lot["current_quantity"])
	assert.Equal(t, float64(0), lot["reserved_quantity"])
}
