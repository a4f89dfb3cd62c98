package queue

import (
	"fmt"
	"time"

	"print_upload/internal/model"
	"print_upload/internal/preflight"
)

// PreflightJobMessage 是写入 Kafka 的单文件预检任务，校验器按 item 消费。
type PreflightJobMessage struct {
	UploadID   string    `json:"upload_id"`
	ShopID     string    `json:"shop_id"`
	ItemID     string    `json:"item_id"`
	StorageKey string    `json:"storage_key"`
	Location   string    `json:"location"`
	QueuedAt   time.Time `json:"queued_at"`
}

// Validate 做最小字段校验，防止校验器处理脏消息。
func (m PreflightJobMessage) Validate() error {
	if m.UploadID == "" {
		return fmt.Errorf("upload_id is required")
	}
	if m.ShopID == "" {
		return fmt.Errorf("shop_id is required")
	}
	if m.ItemID == "" {
		return fmt.Errorf("item_id is required")
	}
	return nil
}

// VerdictMessage 校验器写回 Kafka 的结论，字段与 HTTP 回调一致。
type VerdictMessage struct {
	UploadID string                `json:"uploadId"`
	ShopID   string                `json:"shopId"`
	ItemID   string                `json:"itemId"`
	Status   model.PreflightStatus `json:"status"`
	Result   model.PreflightResult `json:"result"`
}

func (m VerdictMessage) Validate() error {
	if m.UploadID == "" || m.ItemID == "" {
		return fmt.Errorf("uploadId and itemId are required")
	}
	if !m.Status.Valid() {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	return nil
}

func (m VerdictMessage) toVerdict() preflight.Verdict {
	return preflight.Verdict{
		UploadID: m.UploadID,
		ShopID:   m.ShopID,
		ItemID:   m.ItemID,
		Status:   m.Status,
		Result:   m.Result,
	}
}
