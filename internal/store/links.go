package store

import (
	"context"
	"fmt"

	"print_upload/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ghostNamespace 幽灵记录的 ID 由 (shop, order, line item) 确定性生成，
// 重复投递得到同一个 ID，用 upsert 去重而不是先查后写。
var ghostNamespace = uuid.MustParse("6f1c7a52-3f0e-4b8e-9c55-1d2b7a0e4c11")

// GhostUploadID 同一 line item 的幽灵 upload ID 恒定。
func GhostUploadID(shopID, orderID, lineItemID string) string {
	return uuid.NewSHA1(ghostNamespace, []byte(shopID+"|"+orderID+"|"+lineItemID)).String()
}

// GhostMessage 幽灵记录唯一 item 的错误说明。
const GhostMessage = "upload data missing"

// upsertLink 以 (shop_id, order_id, upload_id) 为键写关联，重复投递只刷新 line_item_id。
func upsertLink(tx *gorm.DB, link *model.OrderLink) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "order_id"}, {Name: "upload_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"line_item_id", "updated_at"}),
	}).Create(link).Error
}

// LinkUpload 把真实 upload 绑定到订单：
// upsert 关联、order_id 只写一次、状态推进到 needs_review（blocked 与终态除外），写审计。
func (s *Store) LinkUpload(ctx context.Context, shopID, orderID, uploadID, lineItemID string) (*model.Upload, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUpload(tx, uploadID)
		if err != nil {
			return err
		}
		if u.ShopID != shopID {
			// 跨租户引用永远不认
			return fmt.Errorf("upload %s belongs to another shop: %w", uploadID, model.ErrNotFound)
		}

		if err := upsertLink(tx, &model.OrderLink{
			ShopID: shopID, OrderID: orderID, UploadID: uploadID, LineItemID: lineItemID,
		}); err != nil {
			return err
		}

		if err := tx.Model(&model.Upload{}).
			Where("id = ? AND (order_id = '' OR order_id IS NULL)", uploadID).
			Update("order_id", orderID).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Upload{}).
			Where("id = ? AND status NOT IN ?", uploadID, []model.UploadStatus{
				model.UploadBlocked, model.UploadNeedsReview,
				model.UploadApproved, model.UploadRejected, model.UploadShipped, model.UploadArchived,
			}).
			Update("status", model.UploadNeedsReview).Error; err != nil {
			return err
		}

		return s.AppendAudit(ctx, tx, model.AuditLog{
			ShopID: shopID, UploadID: uploadID, OrderID: orderID,
			Action: "order_linked", Actor: "webhook",
			Detail: fmt.Sprintf("line item %s", lineItemID),
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetUpload(ctx, uploadID)
}

// GhostLine 合成幽灵记录所需的 line item 信息。
type GhostLine struct {
	ShopID        string
	OrderID       string
	LineItemID    string
	ProductID     string
	VariantID     string
	Mode          model.UploadMode
	CustomerID    string
	CustomerEmail string
	Reason        string
}

// EnsureGhost 为缺少 upload 数据的 line item 合成 blocked 占位记录并关联订单。
// 幂等：同一 line item 重复投递只会得到同一条记录。created 表示本次是否新建。
func (s *Store) EnsureGhost(ctx context.Context, g GhostLine) (upload *model.Upload, created bool, err error) {
	id := GhostUploadID(g.ShopID, g.OrderID, g.LineItemID)
	reason := g.Reason
	if reason == "" {
		reason = GhostMessage
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ghost := model.Upload{
			ID:               id,
			ShopID:           g.ShopID,
			Mode:             g.Mode,
			ProductID:        g.ProductID,
			VariantID:        g.VariantID,
			CustomerID:       g.CustomerID,
			CustomerEmail:    g.CustomerEmail,
			OrderID:          g.OrderID,
			Status:           model.UploadBlocked,
			Origin:           model.OriginSynthesized,
			PreflightSummary: model.PreflightError,
			Metadata:         map[string]any{"lineItemId": g.LineItemID},
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Items").Create(&ghost)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0

		if created {
			item := model.UploadItem{
				ID:              uuid.NewSHA1(ghostNamespace, []byte(id+"|item")).String(),
				UploadID:        id,
				PreflightStatus: model.PreflightError,
				PreflightResult: model.PreflightResult{Checks: []model.PreflightCheck{{
					Name: "upload_data", Status: model.PreflightError, Message: reason,
				}}},
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&item).Error; err != nil {
				return err
			}
		}

		if err := upsertLink(tx, &model.OrderLink{
			ShopID: g.ShopID, OrderID: g.OrderID, UploadID: id, LineItemID: g.LineItemID,
		}); err != nil {
			return err
		}

		if !created {
			return nil
		}
		return s.AppendAudit(ctx, tx, model.AuditLog{
			ShopID: g.ShopID, UploadID: id, OrderID: g.OrderID,
			Action: "ghost_synthesized", Actor: "webhook",
			Detail: fmt.Sprintf("line item %s product %s: %s", g.LineItemID, g.ProductID, reason),
		})
	})
	if err != nil {
		return nil, false, err
	}
	upload, err = s.GetUpload(ctx, id)
	return upload, created, err
}

// LinksForOrder 订单关联的全部记录。
func (s *Store) LinksForOrder(ctx context.Context, shopID, orderID string) ([]model.OrderLink, error) {
	var list []model.OrderLink
	err := s.db.WithContext(ctx).
		Where("shop_id = ? AND order_id = ?", shopID, orderID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

// ArchiveForOrder 订单取消：关联的 upload 除 archived / shipped 外全部归档。
// 返回本次真正被归档的 upload ID。
func (s *Store) ArchiveForOrder(ctx context.Context, shopID, orderID string) ([]string, error) {
	links, err := s.LinksForOrder(ctx, shopID, orderID)
	if err != nil {
		return nil, err
	}

	archived := make([]string, 0, len(links))
	for _, l := range links {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Upload{}).
				Where("id = ? AND shop_id = ? AND status NOT IN ?", l.UploadID, shopID,
					[]model.UploadStatus{model.UploadArchived, model.UploadShipped}).
				Update("status", model.UploadArchived)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			archived = append(archived, l.UploadID)
			return s.AppendAudit(ctx, tx, model.AuditLog{
				ShopID: shopID, UploadID: l.UploadID, OrderID: orderID,
				Action: "order_cancelled", Actor: "webhook", Detail: "upload archived",
			})
		})
		if err != nil {
			return archived, err
		}
	}
	return archived, nil
}

// CountLinks 测试与运维核对用。
func (s *Store) CountLinks(ctx context.Context, shopID, orderID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.OrderLink{}).
		Where("shop_id = ? AND order_id = ?", shopID, orderID).
		Count(&n).Error
	return n, err
}
