package model

import "time"

// Shop 租户根记录。卸载应用时级联删除其下全部数据。
type Shop struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Domain        string `gorm:"size:255;uniqueIndex;not null" json:"domain"`
	WebhookSecret string `gorm:"size:255;not null" json:"-"`
	AccessToken   string `gorm:"size:255" json:"-"`
	AutoApprove   bool   `gorm:"not null;default:false" json:"auto_approve"`
	FlowEnabled   bool   `gorm:"not null" json:"flow_enabled"` // 带 default 标签时 gorm 会吞掉 false
}

func (Shop) TableName() string { return "shops" }

// ProductUploadConfig 商品是否开启了上传定制。
// 幽灵记录检测依赖它：line item 命中已开启商品但没带 upload 引用。
type ProductUploadConfig struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID    string     `gorm:"size:36;not null;uniqueIndex:uniq_product_config,priority:1" json:"shop_id"`
	ProductID string     `gorm:"size:64;not null;uniqueIndex:uniq_product_config,priority:2" json:"product_id"`
	Mode      UploadMode `gorm:"size:32;not null" json:"mode"`
	Enabled   bool       `gorm:"not null" json:"enabled"`
}

func (ProductUploadConfig) TableName() string { return "product_upload_configs" }

// AuditLog 只追加的操作日志，本服务从不修改或删除。
type AuditLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ShopID   string `gorm:"size:36;not null;index" json:"shop_id"`
	UploadID string `gorm:"size:36;index" json:"upload_id"`
	OrderID  string `gorm:"size:64;index" json:"order_id"`
	Action   string `gorm:"size:64;not null" json:"action"`
	Actor    string `gorm:"size:64;not null" json:"actor"` // webhook / merchant / system / validator
	Detail   string `gorm:"size:1024" json:"detail"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Export 一次上传导出任务。
type Export struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID      string `gorm:"size:36;not null;index" json:"shop_id"`
	UploadCount int    `gorm:"not null" json:"upload_count"`
	FilePath    string `gorm:"size:512" json:"-"`
	DownloadURL string `gorm:"size:512" json:"download_url"`
	Status      string `gorm:"size:16;not null" json:"status"`
}

func (Export) TableName() string { return "exports" }

// AllModels AutoMigrate 使用的全部表。
func AllModels() []any {
	return []any{
		&Shop{}, &ProductUploadConfig{},
		&Upload{}, &UploadItem{}, &OrderLink{},
		&Commission{}, &FlowTrigger{}, &AuditLog{}, &Export{},
	}
}
