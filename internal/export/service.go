// Package export 生成上传清单（xlsx，每个文件一行），完成后排队 export_completed 事件。
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"print_upload/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	sheetName = "Uploads"
)

var headings = []string{
	"UploadID", "OrderID", "Status", "Origin", "Mode", "ProductID", "VariantID",
	"CustomerEmail", "ItemID", "Location", "StorageKey", "Preflight", "OriginalName", "MimeType", "FileSize",
}

// EventSink 出站事件队列（flow.Queue）。
type EventSink interface {
	Enqueue(ctx context.Context, shopID string, eventType model.EventType, resourceID string, payload any) (*model.FlowTrigger, error)
}

type Service struct {
	db      *gorm.DB
	events  EventSink
	logger  *logrus.Logger
	dir     string
	baseURL string
}

func NewService(db *gorm.DB, events EventSink, logger *logrus.Logger, dir, baseURL string) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{db: db, events: events, logger: logger, dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Export uploadIDs 为空时导出店铺全部 approved 记录。任意 ID 不属于该店铺返回 ErrNotFound。
func (s *Service) Export(ctx context.Context, shopID string, uploadIDs []string) (*model.Export, error) {
	uploads, err := s.load(ctx, shopID, uploadIDs)
	if err != nil {
		return nil, err
	}

	exp := &model.Export{
		ID:          uuid.NewString(),
		ShopID:      shopID,
		UploadCount: len(uploads),
		Status:      StatusCompleted,
	}
	exp.FilePath = filepath.Join(s.dir, exp.ID+".xlsx")
	if s.baseURL != "" {
		exp.DownloadURL = fmt.Sprintf("%s/admin/exports/%s/download", s.baseURL, exp.ID)
	}

	log := s.logger.WithFields(logrus.Fields{"field": "ExportService", "shop_id": shopID, "export_id": exp.ID})
	if err := s.write(exp.FilePath, uploads); err != nil {
		log.Error("write export: " + err.Error())
		exp.Status = StatusFailed
		exp.FilePath = ""
		exp.DownloadURL = ""
	}

	// 导出记录与每个 upload 的审计同一事务落库
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(exp).Error; err != nil {
			return err
		}
		if len(uploads) == 0 {
			return nil
		}
		trail := make([]model.AuditLog, 0, len(uploads))
		for _, u := range uploads {
			trail = append(trail, model.AuditLog{
				ShopID: shopID, UploadID: u.ID, OrderID: u.OrderID,
				Action: "exported", Actor: "merchant", Detail: exp.ID,
			})
		}
		return tx.Create(&trail).Error
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.events.Enqueue(ctx, shopID, model.EventExportCompleted, exp.ID, model.ExportCompletedPayload{
		ExportID:    exp.ID,
		UploadCount: exp.UploadCount,
		DownloadURL: exp.DownloadURL,
		Status:      exp.Status,
	}); err != nil {
		log.Warn("queue export_completed event: " + err.Error())
	}

	log.WithField("uploads", exp.UploadCount).Info("export " + exp.Status)
	return exp, nil
}

// Get 读取店铺的导出记录。
func (s *Service) Get(ctx context.Context, shopID, exportID string) (*model.Export, error) {
	var exp model.Export
	err := s.db.WithContext(ctx).Where("id = ? AND shop_id = ?", exportID, shopID).First(&exp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("export %s: %w", exportID, model.ErrNotFound)
		}
		return nil, err
	}
	return &exp, nil
}

func (s *Service) load(ctx context.Context, shopID string, uploadIDs []string) ([]model.Upload, error) {
	q := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("shop_id = ?", shopID)
	if len(uploadIDs) > 0 {
		q = q.Where("id IN ?", uploadIDs)
	} else {
		q = q.Where("status = ?", model.UploadApproved)
	}
	var list []model.Upload
	if err := q.Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	if len(uploadIDs) > 0 && len(list) != len(dedupe(uploadIDs)) {
		return nil, fmt.Errorf("export: some uploads are not in shop %s: %w", shopID, model.ErrNotFound)
	}
	return list, nil
}

func (s *Service) write(path string, uploads []model.Upload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	row := 2
	for _, u := range uploads {
		for _, it := range u.Items {
			values := []interface{}{
				u.ID, u.OrderID, string(u.Status), string(u.Origin), string(u.Mode), u.ProductID, u.VariantID,
				u.CustomerEmail, it.ID, it.Location, it.StorageKey, string(it.PreflightStatus), it.OriginalName, it.MimeType, it.FileSize,
			}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
				return err
			}
			row++
		}
	}
	return f.SaveAs(path)
}

func dedupe(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
