package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/fiscal"
	"stockledger/internal/domain/registers/valuation"
	v1 "stockledger/internal/infrastructure/http/v1"
	"stockledger/internal/infrastructure/http/v1/dto"
	"stockledger/internal/infrastructure/http/v1/middleware"
	"stockledger/internal/infrastructure/storage/memory"
)

type api struct {
	t       *testing.T
	handler http.Handler

	tenant    id.ID
	company   id.ID
	product   id.ID
	warehouse id.ID
}

type downDB struct{}

func (downDB) Ping(context.Context) error { return errors.New("connection refused") }

func newAPI(t *testing.T, policy entity.ValuationPolicy) *api {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	calendar := fiscal.NewCalendar(store)
	ledger := valuation.NewLedger(valuation.LedgerConfig{
		Repo:      store,
		Policies:  store,
		Calendar:  calendar,
		TxManager: store,
		Locker:    memory.NewLocker(10, time.Millisecond),
		Publisher: store,
		Auditor:   store,
	})

	a := &api{
		t:         t,
		handler:   v1.NewRouter(v1.RouterConfig{Ledger: ledger}),
		tenant:    id.New(),
		company:   id.New(),
		product:   id.New(),
		warehouse: id.New(),
	}
	_, err := calendar.CreateYear(ctx, a.tenant, a.company, 2025, 0)
	require.NoError(t, err)
	require.NoError(t, store.SetValuationSetting(ctx, a.tenant, a.company, int(policy)))
	return a
}

func (a *api) do(method, target string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *api) posting(date time.Time, events ...dto.EventRequest) dto.PostingRequest {
	return dto.PostingRequest{
		DocumentID:   id.New().String(),
		TenantID:     a.tenant.String(),
		CompanyID:    a.company.String(),
		ApprovalDate: date,
		SourceCode:   "GR",
		SourceTitle:  "Goods receipt",
		Events:       events,
	}
}

func (a *api) event(direction entity.Direction, qty, cost string) dto.EventRequest {
	return dto.EventRequest{
		ProductID:   a.product.String(),
		WarehouseID: a.warehouse.String(),
		Direction:   direction,
		Quantity:    types.MustMoney(qty),
		Cost:        types.MustMoney(cost),
	}
}

func (a *api) keyQuery() url.Values {
	return url.Values{
		"tenantId":    {a.tenant.String()},
		"productId":   {a.product.String()},
		"warehouseId": {a.warehouse.String()},
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertDecimal(t *testing.T, want string, got types.Money) {
	t.Helper()
	assert.True(t, types.MustMoney(want).Equal(got), "want %s, got %s", want, got)
}

func january(d int) time.Time {
	return time.Date(2025, time.January, d, 9, 0, 0, 0, time.UTC)
}

func TestRouter_PostAndReadCurrentBalance(t *testing.T) {
	a := newAPI(t, entity.PolicyPerpetual)

	rec := a.do(http.MethodPost, "/api/v1/ledger/postings", a.posting(january(5),
		a.event(entity.DirectionIn, "10", "100"),
		a.event(entity.DirectionIn, "10", "200"),
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	posted := decode[dto.PostingResponse](t, rec)
	assert.Equal(t, 2, posted.Count)
	assert.Equal(t, 2, posted.Rows[1].LogOrder)

	rec = a.do(http.MethodGet, "/api/v1/ledger/balances/current?"+a.keyQuery().Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	current := decode[valuation.CurrentBalance](t, rec)
	assertDecimal(t, "20", current.Balance.Quantity)
	assertDecimal(t, "150", current.Balance.Cost)
	assertDecimal(t, "3000", current.Balance.Value)
	assert.Equal(t, entity.PolicyPerpetual, current.Policy)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_PostingIsRecordedOnce(t *testing.T) {
	a := newAPI(t, entity.PolicyPerpetual)
	req := a.posting(january(5), a.event(entity.DirectionIn, "3", "10"))

	first := decode[dto.PostingResponse](t, a.do(http.MethodPost, "/api/v1/ledger/postings", req))
	second := decode[dto.PostingResponse](t, a.do(http.MethodPost, "/api/v1/ledger/postings", req))

	require.Len(t, second.Rows, 1)
	assert.Equal(t, first.Rows[0].ID, second.Rows[0].ID)
}

func TestRouter_PeriodicCloseAndPeriodBalance(t *testing.T) {
	a := newAPI(t, entity.PolicyPeriodic)

	rec := a.do(http.MethodPost, "/api/v1/ledger/postings", a.posting(january(5),
		a.event(entity.DirectionIn, "20", "300"),
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/v1/ledger/periods/close", dto.SubPeriodRequest{
		TenantID:   a.tenant.String(),
		CompanyID:  a.company.String(),
		FiscalYear: 2025,
		SubPeriod:  1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[dto.CloseResponse](t, rec).Closed)

	q := a.keyQuery()
	q.Set("companyId", a.company.String())
	q.Set("fiscalYear", "2025")
	q.Set("subPeriod", "1")
	rec = a.do(http.MethodGet, "/api/v1/ledger/balances/period?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	b := decode[entity.ProductWarehouseBalance](t, rec)
	assert.True(t, b.Closed)
	assertDecimal(t, "20", b.PeriodicEndingQuantity)
	assertDecimal(t, "300", b.PeriodicEndingCost)
	assertDecimal(t, "6000", b.PeriodicEndingValue)
}

func TestRouter_LockedSubPeriodRejectsPosting(t *testing.T) {
	a := newAPI(t, entity.PolicyPerpetual)

	rec := a.do(http.MethodPost, "/api/v1/ledger/periods/lock", dto.PostingLockRequest{
		SubPeriodRequest: dto.SubPeriodRequest{
			TenantID:   a.tenant.String(),
			CompanyID:  a.company.String(),
			FiscalYear: 2025,
			SubPeriod:  1,
		},
		Locked: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/v1/ledger/postings", a.posting(january(7),
		a.event(entity.DirectionIn, "1", "1"),
	))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperror.CodePeriodClosed, decode[dto.ErrorResponse](t, rec).Code)
}

func TestRouter_Movements(t *testing.T) {
	a := newAPI(t, entity.PolicyPerpetual)

	a.do(http.MethodPost, "/api/v1/ledger/postings", a.posting(january(5),
		a.event(entity.DirectionIn, "10", "100"),
	))
	a.do(http.MethodPost, "/api/v1/ledger/postings", a.posting(january(20),
		a.event(entity.DirectionOut, "4", "0"),
	))

	q := a.keyQuery()
	q.Set("direction", "out")
	q.Set("to", "2025-01-20")
	rec := a.do(http.MethodGet, "/api/v1/ledger/movements?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decode[dto.MovementListResponse](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, entity.DirectionOut, list.Items[0].Direction)
	assertDecimal(t, "6", list.Items[0].CurrentQuantity)
	assert.Equal(t, 100, list.Limit)
}

func TestRouter_Errors(t *testing.T) {
	a := newAPI(t, entity.PolicyPerpetual)

	t.Run("empty posting", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/ledger/postings", a.posting(january(5)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperror.CodeValidation, decode[dto.ErrorResponse](t, rec).Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		q := a.keyQuery()
		q.Set("productId", "not-a-uuid")
		rec := a.do(http.MethodGet, "/api/v1/ledger/balances/current?"+q.Encode(), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "productId", decode[dto.ErrorResponse](t, rec).Details["field"])
	})

	t.Run("period not configured", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/ledger/postings", a.posting(
			time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC),
			a.event(entity.DirectionIn, "1", "1"),
		))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, apperror.CodePeriodNotFound, decode[dto.ErrorResponse](t, rec).Code)
	})

	t.Run("no balance in sub-period", func(t *testing.T) {
		q := a.keyQuery()
		q.Set("companyId", a.company.String())
		q.Set("fiscalYear", "2025")
		q.Set("subPeriod", "4")
		rec := a.do(http.MethodGet, "/api/v1/ledger/balances/period?"+q.Encode(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter_Health(t *testing.T) {
	a := newAPI(t, entity.PolicyPerpetual)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", nil).Code)

	down := v1.NewRouter(v1.RouterConfig{DB: downDB{}})
	rec := httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
