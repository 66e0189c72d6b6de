package entity

import (
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// FinalizedDocument is the business document whose approval produces stock activity.
// Its ID identifies the posting: a document is recorded at most once.
type FinalizedDocument struct {
	ID           id.ID     `json:"id"`
	TenantID     id.ID     `json:"tenantId"`
	CompanyID    id.ID     `json:"companyId"`
	ApprovalDate time.Time `json:"approvalDate"`
	SourceCode   string    `json:"sourceCode"`
	SourceTitle  string    `json:"sourceTitle"`
}

// Validate checks the document header.
func (d *FinalizedDocument) Validate() error {
	if id.IsNil(d.ID) {
		return apperror.NewValidation("document id is required").WithDetail("field", "id")
	}
	if id.IsNil(d.TenantID) {
		return apperror.NewValidation("tenant is required").WithDetail("field", "tenantId")
	}
	if id.IsNil(d.CompanyID) {
		return apperror.NewValidation("company is required").WithDetail("field", "companyId")
	}
	if d.ApprovalDate.IsZero() {
		return apperror.NewValidation("approval date is required").WithDetail("field", "approvalDate")
	}
	return nil
}

// SourceRef references the transaction line that caused a movement.
type SourceRef struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

// StockActivity is one stock event of a finalized document.
// Quantity is in the inventory base unit. Cost is read only for inbound events;
// outbound cost is looked up from the running balance.
type StockActivity struct {
	ProductID   id.ID          `json:"productId"`
	WarehouseID id.ID          `json:"warehouseId"`
	Direction   Direction      `json:"direction"`
	Quantity    types.Quantity `json:"quantity"`
	Cost        types.Money    `json:"cost"`
	Source      SourceRef      `json:"source"`
	Lot         *LotData       `json:"lot,omitempty"`
}

// Validate checks a single activity; index is its position in the batch.
func (a *StockActivity) Validate(index int) error {
	field := func(name string) string { return fmt.Sprintf("events[%d].%s", index, name) }

	if id.IsNil(a.ProductID) {
		return apperror.NewValidation("product is required").WithDetail("field", field("productId"))
	}
	if id.IsNil(a.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", field("warehouseId"))
	}
	if !a.Direction.Valid() {
		return apperror.NewValidation("direction must be 1 (in) or -1 (out)").
			WithDetail("field", field("direction")).
			WithDetail("value", int(a.Direction))
	}
	if !a.Quantity.IsPositive() {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("field", field("quantity")).
			WithDetail("value", a.Quantity.String())
	}
	if a.Direction == DirectionIn && a.Cost.IsNegative() {
		return apperror.NewValidation("cost must not be negative").
			WithDetail("field", field("cost")).
			WithDetail("value", a.Cost.String())
	}
	return nil
}

// Key returns the serialization key the activity touches.
func (a *StockActivity) Key(tenantID id.ID) StockKey {
	return StockKey{TenantID: tenantID, ProductID: a.ProductID, WarehouseID: a.WarehouseID}
}
