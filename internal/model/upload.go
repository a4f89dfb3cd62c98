package model

import (
	"time"
)

// UploadStatus 描述一次客户提交的生命周期。
type UploadStatus string

const (
	UploadDraft           UploadStatus = "draft"            // 正在组装文件，尚未提交
	UploadUploaded        UploadStatus = "uploaded"         // 已提交，预检任务已入队
	UploadProcessing      UploadStatus = "processing"       // 至少一个文件预检结果未返回
	UploadNeedsReview     UploadStatus = "needs_review"     // 需要商家人工审核
	UploadPendingApproval UploadStatus = "pending_approval" // 预检通过，等待商家批准
	UploadBlocked         UploadStatus = "blocked"          // 预检报错或幽灵记录
	UploadApproved        UploadStatus = "approved"
	UploadRejected        UploadStatus = "rejected"
	UploadShipped         UploadStatus = "shipped"
	UploadArchived        UploadStatus = "archived" // 订单已取消
)

// IsFinal 终态：webhook / 预检回调都不能再改写状态。
func (s UploadStatus) IsFinal() bool {
	switch s {
	case UploadApproved, UploadRejected, UploadShipped, UploadArchived:
		return true
	}
	return false
}

// UploadMode 商品的定制模式。
type UploadMode string

const (
	ModeDTFOnly        UploadMode = "dtf_only"
	ModeTshirtIncluded UploadMode = "tshirt_included"
	ModeQuick          UploadMode = "quick"
	ModeBuilder        UploadMode = "builder"
)

// UploadOrigin 区分客户真实提交与 webhook 补偿生成的幽灵记录。
type UploadOrigin string

const (
	OriginReal        UploadOrigin = "real"
	OriginSynthesized UploadOrigin = "synthesized"
)

// MetaAutoApprove 完成时从店铺设置快照到 metadata 的键。
const MetaAutoApprove = "autoApprove"

// Upload 一次客户设计提交，拥有一个或多个 UploadItem。
type Upload struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID        string       `gorm:"size:36;not null;index" json:"shop_id"`
	Mode          UploadMode   `gorm:"size:32;not null" json:"mode"`
	ProductID     string       `gorm:"size:64;index" json:"product_id"`
	VariantID     string       `gorm:"size:64" json:"variant_id"`
	CustomerID    string       `gorm:"size:64" json:"customer_id"`
	CustomerEmail string       `gorm:"size:255" json:"customer_email"`
	OrderID       string       `gorm:"size:64;index" json:"order_id"` // 空串表示尚未关联订单
	Status        UploadStatus `gorm:"size:32;not null;index" json:"status"`
	Origin        UploadOrigin `gorm:"size:16;not null;default:real" json:"origin"`
	// PreflightSummary 由全部 item 状态推导（见 Aggregate），不做增量维护。
	PreflightSummary PreflightStatus `gorm:"size:16;not null;default:pending" json:"preflight_summary"`
	Metadata         map[string]any  `gorm:"type:text;serializer:json" json:"metadata"`

	Items []UploadItem `gorm:"foreignKey:UploadID" json:"items,omitempty"`
}

func (Upload) TableName() string { return "uploads" }

// AutoApprove 读取完成时快照的自动批准策略。
func (u *Upload) AutoApprove() bool {
	if u.Metadata == nil {
		return false
	}
	v, ok := u.Metadata[MetaAutoApprove].(bool)
	return ok && v
}

// UploadItem 一个上传文件。
type UploadItem struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UploadID        string          `gorm:"size:36;not null;index" json:"upload_id"`
	Location        string          `gorm:"size:32" json:"location"` // front / back / sleeve ...
	StorageKey      string          `gorm:"size:512" json:"storage_key"`
	PreflightStatus PreflightStatus `gorm:"size:16;not null;default:pending" json:"preflight_status"`
	PreflightResult PreflightResult `gorm:"type:text;serializer:json" json:"preflight_result"`
	Transform       map[string]any  `gorm:"type:text;serializer:json" json:"transform,omitempty"`
	OriginalName    string          `gorm:"size:255" json:"original_name"`
	MimeType        string          `gorm:"size:128" json:"mime_type"`
	FileSize        int64           `json:"file_size"`
}

func (UploadItem) TableName() string { return "upload_items" }
