package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/registers/valuation"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// Ledger is the valuation ledger as seen by the HTTP adapter.
type Ledger interface {
	Record(ctx context.Context, doc entity.FinalizedDocument, events []entity.StockActivity) ([]*entity.StockMovementLog, error)
	CloseSubPeriod(ctx context.Context, tenantID, companyID id.ID, fiscalYear, order int) (int, error)
	SetPostingLock(ctx context.Context, tenantID, companyID id.ID, fiscalYear, order int, locked bool) error
	GetCurrentBalance(ctx context.Context, key entity.StockKey) (valuation.CurrentBalance, error)
	GetPeriodBalance(ctx context.Context, key entity.StockKey, companyID id.ID, fiscalYear, order int) (*entity.ProductWarehouseBalance, error)
	History(ctx context.Context, key entity.StockKey, filter valuation.MovementFilter) ([]*entity.StockMovementLog, error)
}

var _ Ledger = (*valuation.Ledger)(nil)

const defaultMovementLimit = 100

// LedgerHandler handles HTTP requests for the valuation ledger.
type LedgerHandler struct {
	*BaseHandler
	ledger Ledger
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(base *BaseHandler, ledger Ledger) *LedgerHandler {
	return &LedgerHandler{BaseHandler: base, ledger: ledger}
}

// RegisterRoutes registers ledger routes on rg.
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/postings", h.Post)
	rg.GET("/balances/current", h.CurrentBalance)
	rg.GET("/balances/period", h.PeriodBalance)
	rg.POST("/periods/close", h.ClosePeriod)
	rg.POST("/periods/lock", h.LockPeriod)
	rg.GET("/movements", h.Movements)
}

// Post handles POST /ledger/postings
func (h *LedgerHandler) Post(c *gin.Context) {
	var req dto.PostingRequest
	if !h.BindJSON(c, &req) {
		return
	}

	doc, events, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	rows, err := h.ledger.Record(c.Request.Context(), doc, events)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.PostingResponse{
		DocumentID: doc.ID.String(),
		Count:      len(rows),
		Rows:       rows,
	})
}

// CurrentBalance handles GET /ledger/balances/current
func (h *LedgerHandler) CurrentBalance(c *gin.Context) {
	var q dto.KeyQuery
	if !h.BindQuery(c, &q) {
		return
	}
	key, err := q.Key()
	if err != nil {
		h.Error(c, err)
		return
	}

	balance, err := h.ledger.GetCurrentBalance(c.Request.Context(), key)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, balance)
}

// PeriodBalance handles GET /ledger/balances/period
func (h *LedgerHandler) PeriodBalance(c *gin.Context) {
	var q dto.PeriodBalanceQuery
	if !h.BindQuery(c, &q) {
		return
	}
	key, err := q.Key()
	if err != nil {
		h.Error(c, err)
		return
	}
	companyID, err := q.Company()
	if err != nil {
		h.Error(c, err)
		return
	}

	balance, err := h.ledger.GetPeriodBalance(c.Request.Context(), key, companyID, q.FiscalYear, q.SubPeriod)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, balance)
}

// ClosePeriod handles POST /ledger/periods/close
func (h *LedgerHandler) ClosePeriod(c *gin.Context) {
	var req dto.SubPeriodRequest
	if !h.BindJSON(c, &req) {
		return
	}
	tenantID, companyID, err := req.IDs()
	if err != nil {
		h.Error(c, err)
		return
	}

	closed, err := h.ledger.CloseSubPeriod(c.Request.Context(), tenantID, companyID, req.FiscalYear, req.SubPeriod)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.CloseResponse{FiscalYear: req.FiscalYear, SubPeriod: req.SubPeriod, Closed: closed})
}

// LockPeriod handles POST /ledger/periods/lock
func (h *LedgerHandler) LockPeriod(c *gin.Context) {
	var req dto.PostingLockRequest
	if !h.BindJSON(c, &req) {
		return
	}
	tenantID, companyID, err := req.IDs()
	if err != nil {
		h.Error(c, err)
		return
	}

	err = h.ledger.SetPostingLock(c.Request.Context(), tenantID, companyID, req.FiscalYear, req.SubPeriod, req.Locked)
	if err != nil {
		h.Error(c, err)
		return
	}
	message := "sub-period unlocked"
	if req.Locked {
		message = "sub-period locked"
	}
	h.OK(c, dto.SuccessResponse{Success: true, Message: message})
}

// Movements handles GET /ledger/movements
func (h *LedgerHandler) Movements(c *gin.Context) {
	var q dto.MovementQuery
	if !h.BindQuery(c, &q) {
		return
	}
	key, err := q.Key()
	if err != nil {
		h.Error(c, err)
		return
	}
	direction, err := q.DirectionFilter()
	if err != nil {
		h.Error(c, err)
		return
	}

	filter := valuation.MovementFilter{
		Direction: direction,
		FromDate:  q.From,
		ToDate:    q.To,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if filter.Limit == 0 {
		filter.Limit = defaultMovementLimit
	}
	// "to" is a calendar day and includes postings made during it.
	if q.To != nil {
		end := q.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.ToDate = &end
	}

	rows, err := h.ledger.History(c.Request.Context(), key, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	if rows == nil {
		rows = []*entity.StockMovementLog{}
	}
	h.OK(c, dto.MovementListResponse{Items: rows, Limit: filter.Limit, Offset: filter.Offset})
}
