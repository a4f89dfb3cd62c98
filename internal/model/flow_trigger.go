package model

import (
	"strings"
	"time"
)

// FlowTriggerStatus 出站通知状态机：pending → sent | failed（终态）。
type FlowTriggerStatus string

const (
	TriggerPending FlowTriggerStatus = "pending"
	TriggerSent    FlowTriggerStatus = "sent"
	TriggerFailed  FlowTriggerStatus = "failed"
)

// FlowTriggerMaxAttempts 达到该次数后永久 failed，只能人工重新入队。
const FlowTriggerMaxAttempts = 3

// EventType 生命周期事件类型。
type EventType string

const (
	EventUploadReceived  EventType = "upload_received"
	EventPreflightResult EventType = "preflight_result"
	EventExportCompleted EventType = "export_completed"
)

// Handle 商务平台自动化接口使用的事件 handle。
func (e EventType) Handle() string {
	return strings.ReplaceAll(string(e), "_", "-")
}

// FlowTrigger 一条排队中的出站通知。
type FlowTrigger struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID     string            `gorm:"size:36;not null;index" json:"shop_id"`
	EventType  EventType         `gorm:"size:32;not null" json:"event_type"`
	ResourceID string            `gorm:"size:64;index" json:"resource_id"`
	Payload    string            `gorm:"type:text;not null" json:"payload"`
	Status     FlowTriggerStatus `gorm:"size:16;not null;default:pending;index" json:"status"`
	Attempts   int               `gorm:"not null;default:0" json:"attempts"`
	// NextAttemptAt 失败后的退避时间点，nil 表示立即可发。
	NextAttemptAt *time.Time `gorm:"index" json:"next_attempt_at"`
	SentAt        *time.Time `json:"sent_at"`
	Error         string     `gorm:"size:1024" json:"error"`
}

func (FlowTrigger) TableName() string { return "flow_triggers" }

// UploadReceivedPayload upload-received 事件载荷。
type UploadReceivedPayload struct {
	UploadID  string     `json:"uploadId"`
	Mode      UploadMode `json:"mode"`
	ItemCount int        `json:"itemCount"`
	Locations []string   `json:"locations"`
}

// PreflightResultPayload preflight-result 事件载荷，仅在 warning / error 时发送。
type PreflightResultPayload struct {
	UploadID string           `json:"uploadId"`
	ItemID   string           `json:"itemId"`
	Location string           `json:"location"`
	Status   PreflightStatus  `json:"status"`
	Checks   []PreflightCheck `json:"checks"`
}

// ExportCompletedPayload export-completed 事件载荷。
type ExportCompletedPayload struct {
	ExportID    string `json:"exportId"`
	UploadCount int    `json:"uploadCount"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Status      string `json:"status"`
}
