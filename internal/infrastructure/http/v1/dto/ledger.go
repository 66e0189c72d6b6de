package dto

import (
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// --- Posting ---

// PostingRequest records the stock activity of one finalized document.
type PostingRequest struct {
	DocumentID   string         `json:"documentId" binding:"required"`
	TenantID     string         `json:"tenantId" binding:"required"`
	CompanyID    string         `json:"companyId" binding:"required"`
	ApprovalDate time.Time      `json:"approvalDate" binding:"required"`
	SourceCode   string         `json:"sourceCode"`
	SourceTitle  string         `json:"sourceTitle"`
	Events       []EventRequest `json:"events" binding:"required,min=1,dive"`
}

// EventRequest is one stock activity of a posting.
type EventRequest struct {
	ProductID   string           `json:"productId" binding:"required"`
	WarehouseID string           `json:"warehouseId" binding:"required"`
	Direction   entity.Direction `json:"direction" binding:"required"`
	Quantity    types.Quantity   `json:"quantity"`
	Cost        types.Money      `json:"cost"`
	Source      entity.SourceRef `json:"source"`
	Lot         *entity.LotData  `json:"lot,omitempty"`
}

// ToDomain converts the request to a document and its events.
func (r PostingRequest) ToDomain() (entity.FinalizedDocument, []entity.StockActivity, error) {
	var doc entity.FinalizedDocument
	var err error

	if doc.ID, err = parseID("documentId", r.DocumentID); err != nil {
		return doc, nil, err
	}
	if doc.TenantID, err = parseID("tenantId", r.TenantID); err != nil {
		return doc, nil, err
	}
	if doc.CompanyID, err = parseID("companyId", r.CompanyID); err != nil {
		return doc, nil, err
	}
	doc.ApprovalDate = r.ApprovalDate
	doc.SourceCode = r.SourceCode
	doc.SourceTitle = r.SourceTitle

	events := make([]entity.StockActivity, len(r.Events))
	for i, e := range r.Events {
		a := entity.StockActivity{
			Direction: e.Direction,
			Quantity:  e.Quantity,
			Cost:      e.Cost,
			Source:    e.Source,
			Lot:       e.Lot,
		}
		if a.ProductID, err = parseID("productId", e.ProductID); err != nil {
			return doc, nil, err
		}
		if a.WarehouseID, err = parseID("warehouseId", e.WarehouseID); err != nil {
			return doc, nil, err
		}
		events[i] = a
	}
	return doc, events, nil
}

// PostingResponse lists the movement rows of a recorded document.
type PostingResponse struct {
	DocumentID string                     `json:"documentId"`
	Count      int                        `json:"count"`
	Rows       []*entity.StockMovementLog `json:"rows"`
}

// --- Balances ---

// KeyQuery identifies a stock key in query parameters.
type KeyQuery struct {
	TenantID    string `form:"tenantId" binding:"required"`
	ProductID   string `form:"productId" binding:"required"`
	WarehouseID string `form:"warehouseId" binding:"required"`
}

// Key parses the stock key.
func (q KeyQuery) Key() (entity.StockKey, error) {
	var key entity.StockKey
	var err error
	if key.TenantID, err = parseID("tenantId", q.TenantID); err != nil {
		return key, err
	}
	if key.ProductID, err = parseID("productId", q.ProductID); err != nil {
		return key, err
	}
	if key.WarehouseID, err = parseID("warehouseId", q.WarehouseID); err != nil {
		return key, err
	}
	return key, nil
}

// PeriodBalanceQuery selects the balance of a key in one sub-period.
type PeriodBalanceQuery struct {
	KeyQuery
	CompanyID  string `form:"companyId" binding:"required"`
	FiscalYear int    `form:"fiscalYear" binding:"required"`
	SubPeriod  int    `form:"subPeriod" binding:"required,min=1,max=12"`
}

// Company parses the company id.
func (q PeriodBalanceQuery) Company() (id.ID, error) {
	return parseID("companyId", q.CompanyID)
}

// --- Periods ---

// SubPeriodRequest addresses sub-period (fiscalYear, subPeriod) of a company.
type SubPeriodRequest struct {
	TenantID   string `json:"tenantId" binding:"required"`
	CompanyID  string `json:"companyId" binding:"required"`
	FiscalYear int    `json:"fiscalYear" binding:"required"`
	SubPeriod  int    `json:"subPeriod" binding:"required,min=1,max=12"`
}

// IDs parses tenant and company.
func (r SubPeriodRequest) IDs() (tenantID, companyID id.ID, err error) {
	if tenantID, err = parseID("tenantId", r.TenantID); err != nil {
		return
	}
	companyID, err = parseID("companyId", r.CompanyID)
	return
}

// PostingLockRequest locks or unlocks a sub-period for posting.
type PostingLockRequest struct {
	SubPeriodRequest
	Locked bool `json:"locked"`
}

// CloseResponse reports the number of balances closed.
type CloseResponse struct {
	FiscalYear int `json:"fiscalYear"`
	SubPeriod  int `json:"subPeriod"`
	Closed     int `json:"closed"`
}

// --- Movements ---

// MovementQuery filters movement history of a key.
type MovementQuery struct {
	KeyQuery
	Direction string     `form:"direction" binding:"omitempty,oneof=in out"`
	From      *time.Time `form:"from" time_format:"2006-01-02"`
	To        *time.Time `form:"to" time_format:"2006-01-02"`
	Limit     int        `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset    int        `form:"offset" binding:"omitempty,min=0"`
}

// DirectionFilter returns the requested direction or nil.
func (q MovementQuery) DirectionFilter() (*entity.Direction, error) {
	var d entity.Direction
	switch q.Direction {
	case "":
		return nil, nil
	case "in":
		d = entity.DirectionIn
	case "out":
		d = entity.DirectionOut
	default:
		return nil, apperror.NewValidation("direction must be in or out").WithDetail("value", q.Direction)
	}
	return &d, nil
}

// MovementListResponse represents a page of movement history.
type MovementListResponse struct {
	Items  []*entity.StockMovementLog `json:"items"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}
