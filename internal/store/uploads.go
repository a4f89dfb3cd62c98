package store

import (
	"context"
	"fmt"

	"print_upload/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemUpdate 完成上传时对已有 item 的可选修改，空字段表示不变。
type ItemUpdate struct {
	ItemID     string         `json:"item_id"`
	Location   string         `json:"location"`
	StorageKey string         `json:"storage_key"`
	Transform  map[string]any `json:"transform"`
}

// VerdictOutcome 单个 item 结论落库后的结果。
type VerdictOutcome struct {
	Upload         *model.Upload
	Item           *model.UploadItem
	PreviousStatus model.UploadStatus
}

// StatusChanged 本次结论是否推动了 Upload 状态。
func (o VerdictOutcome) StatusChanged() bool {
	return o.Upload != nil && o.Upload.Status != o.PreviousStatus
}

// CreateUpload 写入 upload 及其 items。
func (s *Store) CreateUpload(ctx context.Context, u *model.Upload) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	for i := range u.Items {
		if u.Items[i].ID == "" {
			u.Items[i].ID = uuid.NewString()
		}
		if u.Items[i].PreflightStatus == "" {
			u.Items[i].PreflightStatus = model.PreflightPending
		}
	}
	if u.PreflightSummary == "" {
		u.PreflightSummary = model.PreflightPending
	}
	if u.Origin == "" {
		u.Origin = model.OriginReal
	}
	return s.db.WithContext(ctx).Create(u).Error
}

// GetUpload 读取 upload 及全部 items。
func (s *Store) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	var u model.Upload
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return nil, notFound(err, "upload "+id)
	}
	return &u, nil
}

// ListUploads 按店铺列出 upload，status 为空时不过滤。
func (s *Store) ListUploads(ctx context.Context, shopID string, status model.UploadStatus, limit int) ([]model.Upload, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Where("shop_id = ?", shopID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []model.Upload
	err := q.Preload("Items").Order("created_at DESC").Limit(limit).Find(&list).Error
	return list, err
}

// AddItem 只能在 draft 阶段添加文件。
func (s *Store) AddItem(ctx context.Context, uploadID string, item *model.UploadItem) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUpload(tx, uploadID)
		if err != nil {
			return err
		}
		if u.Status != model.UploadDraft {
			return fmt.Errorf("add item to %s upload %s: %w", u.Status, uploadID, model.ErrInvalidState)
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.UploadID = uploadID
		item.PreflightStatus = model.PreflightPending
		return tx.Create(item).Error
	})
}

// MarkUploaded draft → uploaded。
// 先应用 item 修改、快照 autoApprove，再以条件更新推进状态；非 draft 返回 ErrInvalidState。
// 返回推进后的 upload（含 items），用于入队预检任务。
func (s *Store) MarkUploaded(ctx context.Context, uploadID string, updates []ItemUpdate, autoApprove bool) (*model.Upload, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUpload(tx, uploadID)
		if err != nil {
			return err
		}
		if u.Status != model.UploadDraft {
			return fmt.Errorf("complete %s upload %s: %w", u.Status, uploadID, model.ErrInvalidState)
		}

		for _, up := range updates {
			cols := make([]string, 0, 3)
			patch := model.UploadItem{}
			if up.Location != "" {
				cols = append(cols, "location")
				patch.Location = up.Location
			}
			if up.StorageKey != "" {
				cols = append(cols, "storage_key")
				patch.StorageKey = up.StorageKey
			}
			if up.Transform != nil {
				cols = append(cols, "transform")
				patch.Transform = up.Transform
			}
			if len(cols) == 0 {
				continue
			}
			res := tx.Model(&model.UploadItem{}).
				Where("id = ? AND upload_id = ?", up.ItemID, uploadID).
				Select(cols).
				Updates(&patch)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("item %s of upload %s: %w", up.ItemID, uploadID, model.ErrNotFound)
			}
		}

		meta := u.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		meta[model.MetaAutoApprove] = autoApprove

		res := tx.Model(&model.Upload{}).
			Where("id = ? AND status = ?", uploadID, model.UploadDraft).
			Select("status", "metadata").
			Updates(&model.Upload{Status: model.UploadUploaded, Metadata: meta})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("complete upload %s: %w", uploadID, model.ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUpload(ctx, uploadID)
}

// ApplyVerdict 写入单个 item 的预检结论，并在锁住 upload 行的同一事务内
// 用全部 items 重新推导汇总结论。并发到达的多个结论都会收敛到正确结果。
//
// uploaded / processing 按 autoApprove 策略推进；已关联订单的 needs_review 在汇总
// 首次落定时只接受 error/warning。其余状态（已决议、blocked、终态）只更新汇总。
func (s *Store) ApplyVerdict(ctx context.Context, uploadID, itemID string, status model.PreflightStatus, result model.PreflightResult) (VerdictOutcome, error) {
	var out VerdictOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUpload(tx, uploadID)
		if err != nil {
			return err
		}

		res := tx.Model(&model.UploadItem{}).
			Where("id = ? AND upload_id = ?", itemID, uploadID).
			Select("preflight_status", "preflight_result").
			Updates(&model.UploadItem{PreflightStatus: status, PreflightResult: result})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("item %s of upload %s: %w", itemID, uploadID, model.ErrNotFound)
		}

		var statuses []model.PreflightStatus
		if err := tx.Model(&model.UploadItem{}).
			Where("upload_id = ?", uploadID).
			Pluck("preflight_status", &statuses).Error; err != nil {
			return err
		}
		summary := model.Aggregate(statuses)

		out.PreviousStatus = u.Status
		next := u.Status
		switch {
		case u.Status == model.UploadUploaded || u.Status == model.UploadProcessing:
			next = model.ResolveStatus(summary, u.AutoApprove())
		case u.Status == model.UploadNeedsReview && u.PreflightSummary == model.PreflightPending && summary != model.PreflightPending:
			// 订单先于预检结论到达（已是 needs_review）：error/warning 照常落定，
			// ok 不越过订单触发的人工审核，也不走 autoApprove。
			if summary != model.PreflightOK {
				next = model.ResolveStatus(summary, false)
			}
		}

		if err := tx.Model(&model.Upload{}).
			Where("id = ?", uploadID).
			Updates(map[string]any{
				"preflight_summary": summary,
				"status":            next,
			}).Error; err != nil {
			return err
		}
		u.PreflightSummary = summary
		u.Status = next
		out.Upload = u

		var item model.UploadItem
		if err := tx.Where("id = ?", itemID).First(&item).Error; err != nil {
			return err
		}
		out.Item = &item

		detail := fmt.Sprintf("item %s preflight %s, summary %s", itemID, status, summary)
		return s.AppendAudit(ctx, tx, model.AuditLog{
			ShopID: u.ShopID, UploadID: uploadID, OrderID: u.OrderID,
			Action: "preflight_verdict", Actor: "validator", Detail: detail,
		})
	})
	return out, err
}

// PendingItems 仍在等待预检结论的 items。
func (s *Store) PendingItems(ctx context.Context, uploadID string) ([]model.UploadItem, error) {
	var list []model.UploadItem
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND preflight_status = ?", uploadID, model.PreflightPending).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

// Transition 受控的状态变更：仅当当前状态属于 from 时才改为 to，并写审计。
func (s *Store) Transition(ctx context.Context, uploadID string, from []model.UploadStatus, to model.UploadStatus, actor, detail string) (*model.Upload, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUpload(tx, uploadID)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if u.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("upload %s is %s, cannot move to %s: %w", uploadID, u.Status, to, model.ErrInvalidState)
		}
		if err := tx.Model(&model.Upload{}).Where("id = ?", uploadID).Update("status", to).Error; err != nil {
			return err
		}
		return s.AppendAudit(ctx, tx, model.AuditLog{
			ShopID: u.ShopID, UploadID: uploadID, OrderID: u.OrderID,
			Action: "status_" + string(to), Actor: actor, Detail: detail,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetUpload(ctx, uploadID)
}

// lockUpload 在事务内读取并锁住 upload 行（Postgres 为 FOR UPDATE，SQLite 忽略）。
func lockUpload(tx *gorm.DB, uploadID string) (*model.Upload, error) {
	var u model.Upload
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", uploadID).
		First(&u).Error
	if err != nil {
		return nil, notFound(err, "upload "+uploadID)
	}
	return &u, nil
}
