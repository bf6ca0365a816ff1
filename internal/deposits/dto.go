package deposits

import (
	"time"

	"github.com/bottlekeep/bottlekeep/internal/shared"
)

type createDepositRequest struct {
	StoreID       int64      `json:"store_id" validate:"required"`
	DepositCode   string     `json:"deposit_code" validate:"required,max=40"`
	CustomerName  string     `json:"customer_name" validate:"required,max=100"`
	CustomerPhone *string    `json:"customer_phone,omitempty" validate:"omitempty,max=30"`
	ProductName   string     `json:"product_name" validate:"required,max=200"`
	Category      *string    `json:"category,omitempty" validate:"omitempty,max=50"`
	Quantity      float64    `json:"quantity" validate:"required,gt=0"`
	TableNumber   *string    `json:"table_number,omitempty" validate:"omitempty,max=10"`
	IsVIP         bool       `json:"is_vip"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	PhotoURLs     []string   `json:"photo_urls,omitempty" validate:"omitempty,dive,url"`
	ReceivedBy    string     `json:"received_by" validate:"required,max=100"`
	Confirmed     bool       `json:"confirmed"`
}

func (r createDepositRequest) toInput() CreateInput {
	return CreateInput{
		StoreID:       r.StoreID,
		DepositCode:   r.DepositCode,
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		ProductName:   r.ProductName,
		Category:      r.Category,
		Quantity:      r.Quantity,
		TableNumber:   r.TableNumber,
		IsVIP:         r.IsVIP,
		ExpiryDate:    r.ExpiryDate,
		Notes:         r.Notes,
		PhotoURLs:     r.PhotoURLs,
		ReceivedBy:    r.ReceivedBy,
		Confirmed:     r.Confirmed,
	}
}

type setVIPRequest struct {
	IsVIP bool `json:"is_vip"`
}

type expireRequest struct {
	Notify bool `json:"notify"`
}

type extendExpiryRequest struct {
	Days int `json:"days" validate:"required,gt=0"`
}

type listResponse struct {
	Items      []Deposit         `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func warningStrings(w *shared.AuditWarning) []string {
	if w == nil {
		return nil
	}
	return []string{w.Error()}
}
