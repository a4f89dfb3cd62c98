package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLink 订单与 Upload 的多对多关联。
// (shop_id, order_id, upload_id) 唯一：重复投递只更新 line_item_id，不产生新行。
type OrderLink struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID     string `gorm:"size:36;not null;uniqueIndex:uniq_order_link,priority:1" json:"shop_id"`
	OrderID    string `gorm:"size:64;not null;uniqueIndex:uniq_order_link,priority:2" json:"order_id"`
	UploadID   string `gorm:"size:36;not null;uniqueIndex:uniq_order_link,priority:3;index" json:"upload_id"`
	LineItemID string `gorm:"size:64" json:"line_item_id"`
}

func (OrderLink) TableName() string { return "order_links" }

// CommissionStatus 平台佣金的支付状态。
type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
	// CommissionVoided 仅在取消策略配置为 void 时出现。
	CommissionVoided CommissionStatus = "voided"
)

// Commission 每个订单一条固定费用记录，(shop_id, order_id) 唯一。
type Commission struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID           string           `gorm:"size:36;not null;uniqueIndex:uniq_commission,priority:1" json:"shop_id"`
	OrderID          string           `gorm:"size:64;not null;uniqueIndex:uniq_commission,priority:2" json:"order_id"`
	OrderTotal       decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"order_total"`
	OrderCurrency    string           `gorm:"size:8" json:"order_currency"`
	CommissionAmount decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"commission_amount"`
	Status           CommissionStatus `gorm:"size:16;not null;default:pending;index" json:"status"`
	PaymentRef       string           `gorm:"size:128" json:"payment_ref"`
	PaidAt           *time.Time       `json:"paid_at"`
}

func (Commission) TableName() string { return "commissions" }
