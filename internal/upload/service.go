// Package upload 店面提交草稿、追加文件，以及商家的人工审核决定。
package upload

import (
	"context"
	"fmt"
	"strings"

	"print_upload/internal/model"
	"print_upload/internal/store"

	"github.com/sirupsen/logrus"
)

// DraftRequest 店面创建草稿的请求体。
type DraftRequest struct {
	ShopID        string           `json:"shop_id"`
	Mode          model.UploadMode `json:"mode"`
	ProductID     string           `json:"product_id"`
	VariantID     string           `json:"variant_id"`
	CustomerID    string           `json:"customer_id"`
	CustomerEmail string           `json:"customer_email"`
	Items         []ItemRequest    `json:"items"`
}

type ItemRequest struct {
	Location     string         `json:"location"`
	StorageKey   string         `json:"storage_key"`
	OriginalName string         `json:"original_name"`
	MimeType     string         `json:"mime_type"`
	FileSize     int64          `json:"file_size"`
	Transform    map[string]any `json:"transform"`
}

func (r ItemRequest) toModel() model.UploadItem {
	return model.UploadItem{
		Location:     r.Location,
		StorageKey:   r.StorageKey,
		OriginalName: r.OriginalName,
		MimeType:     r.MimeType,
		FileSize:     r.FileSize,
		Transform:    r.Transform,
	}
}

// Validate 最小字段校验。
func (r DraftRequest) Validate() error {
	if r.ShopID == "" {
		return fmt.Errorf("shop_id is required")
	}
	switch r.Mode {
	case model.ModeDTFOnly, model.ModeTshirtIncluded, model.ModeQuick, model.ModeBuilder:
	default:
		return fmt.Errorf("unsupported mode %q", r.Mode)
	}
	for i, it := range r.Items {
		if it.FileSize < 0 {
			return fmt.Errorf("items[%d].file_size must be >= 0", i)
		}
	}
	return nil
}

type Service struct {
	store  *store.Store
	logger *logrus.Logger
}

func NewService(st *store.Store, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: st, logger: logger}
}

// CreateDraft 创建 draft upload；店铺必须存在。
func (s *Service) CreateDraft(ctx context.Context, req DraftRequest) (*model.Upload, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	if _, err := s.store.ShopByID(ctx, req.ShopID); err != nil {
		return nil, err
	}

	u := &model.Upload{
		ShopID:        req.ShopID,
		Mode:          req.Mode,
		ProductID:     req.ProductID,
		VariantID:     req.VariantID,
		CustomerID:    req.CustomerID,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Status:        model.UploadDraft,
		Origin:        model.OriginReal,
		Metadata:      map[string]any{},
	}
	for _, it := range req.Items {
		u.Items = append(u.Items, it.toModel())
	}
	if err := s.store.CreateUpload(ctx, u); err != nil {
		return nil, err
	}
	if err := s.store.AppendAudit(ctx, nil, model.AuditLog{
		ShopID: u.ShopID, UploadID: u.ID, Action: "draft_created", Actor: "storefront",
		Detail: fmt.Sprintf("mode %s, %d items", u.Mode, len(u.Items)),
	}); err != nil {
		return nil, err
	}
	return s.store.GetUpload(ctx, u.ID)
}

// AddItem 只能在 draft 阶段追加文件。shopID 非空时校验归属。
func (s *Service) AddItem(ctx context.Context, shopID, uploadID string, req ItemRequest) (*model.UploadItem, error) {
	if shopID != "" {
		if _, err := s.owned(ctx, shopID, uploadID); err != nil {
			return nil, err
		}
	}
	item := req.toModel()
	if err := s.store.AddItem(ctx, uploadID, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Approve needs_review / pending_approval / blocked → approved。
func (s *Service) Approve(ctx context.Context, shopID, uploadID, actor string) (*model.Upload, error) {
	return s.transition(ctx, shopID, uploadID, []model.UploadStatus{
		model.UploadNeedsReview, model.UploadPendingApproval, model.UploadBlocked,
	}, model.UploadApproved, actor, "")
}

// Reject 已决议之前的任意审核状态 → rejected。
func (s *Service) Reject(ctx context.Context, shopID, uploadID, actor, reason string) (*model.Upload, error) {
	return s.transition(ctx, shopID, uploadID, []model.UploadStatus{
		model.UploadNeedsReview, model.UploadPendingApproval, model.UploadBlocked,
		model.UploadUploaded, model.UploadProcessing,
	}, model.UploadRejected, actor, reason)
}

// Unreject 唯一允许的回退：rejected → needs_review。
func (s *Service) Unreject(ctx context.Context, shopID, uploadID, actor string) (*model.Upload, error) {
	return s.transition(ctx, shopID, uploadID, []model.UploadStatus{model.UploadRejected},
		model.UploadNeedsReview, actor, "manual un-reject")
}

// MarkShipped approved → shipped，此后订单取消不再归档它。
func (s *Service) MarkShipped(ctx context.Context, shopID, uploadID, actor string) (*model.Upload, error) {
	return s.transition(ctx, shopID, uploadID, []model.UploadStatus{model.UploadApproved},
		model.UploadShipped, actor, "")
}

// Get 按店铺读取。
func (s *Service) Get(ctx context.Context, shopID, uploadID string) (*model.Upload, error) {
	return s.owned(ctx, shopID, uploadID)
}

func (s *Service) List(ctx context.Context, shopID string, status model.UploadStatus, limit int) ([]model.Upload, error) {
	return s.store.ListUploads(ctx, shopID, status, limit)
}

func (s *Service) transition(ctx context.Context, shopID, uploadID string, from []model.UploadStatus, to model.UploadStatus, actor, detail string) (*model.Upload, error) {
	if _, err := s.owned(ctx, shopID, uploadID); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = "merchant"
	}
	u, err := s.store.Transition(ctx, uploadID, from, to, actor, detail)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"field":     "UploadService",
		"shop_id":   shopID,
		"upload_id": uploadID,
		"status":    to,
		"actor":     actor,
	}).Info("upload status changed")
	return u, nil
}

// owned 跨店铺访问按不存在处理。
func (s *Service) owned(ctx context.Context, shopID, uploadID string) (*model.Upload, error) {
	u, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if u.ShopID != shopID {
		return nil, fmt.Errorf("upload %s: %w", uploadID, model.ErrNotFound)
	}
	return u, nil
}
