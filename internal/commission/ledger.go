// Package commission 每单固定平台佣金的计提与支付状态。
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"print_upload/internal/config"
	"print_upload/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger 佣金账本。所有写入都是 (shop_id, order_id) 上的 upsert，重复 webhook 不会重复计费。
type Ledger struct {
	db     *gorm.DB
	logger *logrus.Logger

	fee          decimal.Decimal
	cancelPolicy config.CancelPolicy
}

func NewLedger(db *gorm.DB, logger *logrus.Logger, fee decimal.Decimal, policy config.CancelPolicy) *Ledger {
	if policy == "" {
		policy = config.CancelPolicyRetain
	}
	return &Ledger{db: db, logger: logger, fee: fee, cancelPolicy: policy}
}

// Fee 固定费用与订单金额、币种无关；每次调用都按同一规则重算，覆盖写是安全的。
func (l *Ledger) Fee() decimal.Decimal { return l.fee }

// Accrue 计提（或刷新）订单佣金。已支付/已作废的状态与 payment_ref 不会被重复投递覆盖。
func (l *Ledger) Accrue(ctx context.Context, shopID, orderID string, orderTotal decimal.Decimal, currency string) (*model.Commission, error) {
	if shopID == "" || orderID == "" {
		return nil, fmt.Errorf("accrue commission: shop_id and order_id are required")
	}
	rec := model.Commission{
		ShopID:           shopID,
		OrderID:          orderID,
		OrderTotal:       orderTotal,
		OrderCurrency:    currency,
		CommissionAmount: l.fee,
		Status:           model.CommissionPending,
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"order_total", "order_currency", "commission_amount", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("accrue commission %s/%s: %w", shopID, orderID, err)
	}

	out, err := l.Get(ctx, shopID, orderID)
	if err != nil {
		return nil, err
	}
	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"field":    "CommissionLedger",
			"shop_id":  shopID,
			"order_id": orderID,
			"amount":   out.CommissionAmount.StringFixed(2),
			"status":   out.Status,
		}).Info("commission accrued")
	}
	return out, nil
}

// Get 读取订单佣金。
func (l *Ledger) Get(ctx context.Context, shopID, orderID string) (*model.Commission, error) {
	var rec model.Commission
	err := l.db.WithContext(ctx).
		Where("shop_id = ? AND order_id = ?", shopID, orderID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("commission %s/%s: %w", shopID, orderID, model.ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}

// MarkPaid 把给定订单中仍为 pending 的佣金标为 paid，返回更新条数。
// 手动收款与自动收款流程共用。
func (l *Ledger) MarkPaid(ctx context.Context, shopID string, orderIDs []string, paymentRef string) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	res := l.db.WithContext(ctx).Model(&model.Commission{}).
		Where("shop_id = ? AND order_id IN ? AND status = ?", shopID, orderIDs, model.CommissionPending).
		Updates(map[string]any{
			"status":      model.CommissionPaid,
			"payment_ref": paymentRef,
			"paid_at":     &now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mark commissions paid: %w", res.Error)
	}
	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"field":       "CommissionLedger",
			"shop_id":     shopID,
			"payment_ref": paymentRef,
			"count":       res.RowsAffected,
		}).Info("commissions marked paid")
	}
	return res.RowsAffected, nil
}

// Pending 未支付的佣金列表。
func (l *Ledger) Pending(ctx context.Context, shopID string) ([]model.Commission, error) {
	var list []model.Commission
	err := l.db.WithContext(ctx).
		Where("shop_id = ? AND status = ?", shopID, model.CommissionPending).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// PendingTotal sum(commission_amount) where status = pending。
// 收款流程据此决定何时触发扣款（例如超过阈值）。
func (l *Ledger) PendingTotal(ctx context.Context, shopID string) (decimal.Decimal, error) {
	list, err := l.Pending(ctx, shopID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, c := range list {
		total = total.Add(c.CommissionAmount)
	}
	return total, nil
}

// ApplyCancellation 订单取消时按配置的策略处理佣金。
// retain（默认）什么都不做；void 只作废尚未支付的佣金。
func (l *Ledger) ApplyCancellation(ctx context.Context, shopID, orderID string) (bool, error) {
	if l.cancelPolicy != config.CancelPolicyVoid {
		return false, nil
	}
	res := l.db.WithContext(ctx).Model(&model.Commission{}).
		Where("shop_id = ? AND order_id = ? AND status = ?", shopID, orderID, model.CommissionPending).
		Update("status", model.CommissionVoided)
	if res.Error != nil {
		return false, fmt.Errorf("void commission %s/%s: %w", shopID, orderID, res.Error)
	}
	return res.RowsAffected > 0, nil
}
