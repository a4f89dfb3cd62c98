// Package flow 把生命周期事件可靠地通知到商务平台的自动化接口。
//
// 状态机：pending --成功--> sent；pending --失败且 attempts < 3--> pending；
// pending --失败且 attempts == 3--> failed（终态，只能人工 Requeue）。
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"print_upload/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ShopLookup 投递时需要店铺域名与 token。
type ShopLookup interface {
	ShopByID(ctx context.Context, id string) (*model.Shop, error)
}

const maxErrorLen = 1024

// Queue 基于数据库表 flow_triggers 的出站通知队列。
type Queue struct {
	db     *gorm.DB
	shops  ShopLookup
	client Client
	logger *logrus.Logger

	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	now func() time.Time
}

func NewQueue(db *gorm.DB, shops ShopLookup, client Client, logger *logrus.Logger, baseBackoff time.Duration) *Queue {
	return &Queue{
		db:          db,
		shops:       shops,
		client:      client,
		logger:      logger,
		MaxAttempts: model.FlowTriggerMaxAttempts,
		BaseBackoff: baseBackoff,
		MaxBackoff:  10 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue 写入一条 pending 通知。店铺关闭了自动化时返回 nil, nil。
func (q *Queue) Enqueue(ctx context.Context, shopID string, eventType model.EventType, resourceID string, payload any) (*model.FlowTrigger, error) {
	shop, err := q.shops.ShopByID(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if !shop.FlowEnabled {
		return nil, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	t := &model.FlowTrigger{
		ID:         uuid.NewString(),
		ShopID:     shopID,
		EventType:  eventType,
		ResourceID: resourceID,
		Payload:    string(b),
		Status:     model.TriggerPending,
	}
	if err := q.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return t, nil
}

// Get 读取单条通知。
func (q *Queue) Get(ctx context.Context, id string) (*model.FlowTrigger, error) {
	var t model.FlowTrigger
	if err := q.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("trigger %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

// Due 到期可投递的 pending 通知（退避时间已过）。
func (q *Queue) Due(ctx context.Context, limit int) ([]model.FlowTrigger, error) {
	var list []model.FlowTrigger
	err := q.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", model.TriggerPending, q.MaxAttempts).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", q.now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// Send 对一条通知做一次真实投递。无论成败 attempts 恰好加一；
// 失败时记录错误，attempts 达到上限即转为 failed。
// 非 pending 或已用尽次数的通知返回 ErrNotSendable，且不计入尝试。
func (q *Queue) Send(ctx context.Context, id string) (*model.FlowTrigger, error) {
	// 先以条件更新占用本次尝试，避免并发投递重复计数。
	// 最后一次尝试在占用时就记为 failed，结果写回丢失也不会卡在 pending。
	res := q.db.WithContext(ctx).Model(&model.FlowTrigger{}).
		Where("id = ? AND status = ? AND attempts < ?", id, model.TriggerPending, q.MaxAttempts).
		Updates(map[string]any{
			"attempts": gorm.Expr("attempts + 1"),
			"status":   gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE status END", q.MaxAttempts, string(model.TriggerFailed)),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := q.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("trigger %s: %w", id, model.ErrNotSendable)
	}

	t, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sendErr := q.deliver(ctx, t)
	now := q.now()

	// 投递期间 ctx 可能被取消（停机），结果仍要落库
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if sendErr == nil {
		if err := q.db.WithContext(wctx).Model(&model.FlowTrigger{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":          model.TriggerSent,
				"sent_at":         &now,
				"error":           "",
				"next_attempt_at": nil,
			}).Error; err != nil {
			return nil, err
		}
		t.Status = model.TriggerSent
		t.SentAt = &now
		t.Error = ""
		q.log(t).Info("flow trigger sent")
		return t, nil
	}

	msg := truncate(sendErr.Error(), maxErrorLen)
	status := model.TriggerPending
	var next *time.Time
	if t.Attempts >= q.MaxAttempts {
		status = model.TriggerFailed
	} else {
		n := now.Add(q.backoff(t.Attempts))
		next = &n
	}
	if err := q.db.WithContext(wctx).Model(&model.FlowTrigger{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"error":           msg,
			"next_attempt_at": next,
		}).Error; err != nil {
		return nil, err
	}
	t.Status = status
	t.Error = msg
	t.NextAttemptAt = next

	entry := q.log(t)
	if status == model.TriggerFailed {
		entry.Error("flow trigger moved to failed after max attempts: " + msg)
	} else {
		entry.Warn("flow trigger delivery failed: " + msg)
	}
	return t, fmt.Errorf("trigger %s attempt %d: %w: %v", id, t.Attempts, model.ErrDeliveryFailure, sendErr)
}

// Requeue 运维人工重新入队 failed 通知：回到 pending 并清零尝试次数。
func (q *Queue) Requeue(ctx context.Context, shopID, id string) (*model.FlowTrigger, error) {
	res := q.db.WithContext(ctx).Model(&model.FlowTrigger{}).
		Where("id = ? AND shop_id = ? AND status = ?", id, shopID, model.TriggerFailed).
		Updates(map[string]any{
			"status":          model.TriggerPending,
			"attempts":        0,
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("requeue trigger %s: %w", id, model.ErrInvalidState)
	}
	return q.Get(ctx, id)
}

// Failed 需要人工介入的通知。
func (q *Queue) Failed(ctx context.Context, shopID string) ([]model.FlowTrigger, error) {
	var list []model.FlowTrigger
	err := q.db.WithContext(ctx).
		Where("shop_id = ? AND status = ?", shopID, model.TriggerFailed).
		Order("updated_at DESC").
		Find(&list).Error
	return list, err
}

func (q *Queue) deliver(ctx context.Context, t *model.FlowTrigger) error {
	shop, err := q.shops.ShopByID(ctx, t.ShopID)
	if err != nil {
		return err
	}
	return q.client.Trigger(ctx, shop, t.EventType.Handle(), json.RawMessage(t.Payload))
}

// truncate 按字节截断但不切开多字节字符。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// backoff base * 2^(attempt-1)，封顶 MaxBackoff。
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > q.MaxBackoff {
			return q.MaxBackoff
		}
	}
	return d
}

func (q *Queue) log(t *model.FlowTrigger) *logrus.Entry {
	logger := q.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"field":       "FlowQueue",
		"shop_id":     t.ShopID,
		"trigger_id":  t.ID,
		"event_type":  t.EventType,
		"resource_id": t.ResourceID,
		"attempts":    t.Attempts,
		"status":      t.Status,
	})
}
