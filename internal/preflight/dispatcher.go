// Package preflight 负责完成上传时派发逐文件的预检任务，并接收校验器回报的结论。
package preflight

import (
	"context"
	"fmt"

	"print_upload/internal/model"
	"print_upload/internal/store"

	"github.com/sirupsen/logrus"
)

// Job 一个文件的预检任务。
type Job struct {
	UploadID   string `json:"upload_id"`
	ShopID     string `json:"shop_id"`
	ItemID     string `json:"item_id"`
	StorageKey string `json:"storage_key"`
	Location   string `json:"location"`
}

// Enqueuer 预检任务队列。入队即返回，不等待校验完成。
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job Job) error
}

// EventSink 出站事件队列（flow.Queue）。
type EventSink interface {
	Enqueue(ctx context.Context, shopID string, eventType model.EventType, resourceID string, payload any) (*model.FlowTrigger, error)
}

// ShopLookup 完成上传时读取店铺的 autoApprove 设置。
type ShopLookup interface {
	ShopByID(ctx context.Context, id string) (*model.Shop, error)
}

// Verdict 校验器回报的单个文件结论。
type Verdict struct {
	UploadID string                `json:"uploadId"`
	ShopID   string                `json:"shopId"`
	ItemID   string                `json:"itemId"`
	Status   model.PreflightStatus `json:"status"`
	Result   model.PreflightResult `json:"result"`
}

// Completion CompleteUpload 的返回。
type Completion struct {
	UploadID string             `json:"uploadId"`
	Status   model.UploadStatus `json:"status"`
	Jobs     int                `json:"jobs"`
}

type Dispatcher struct {
	store  *store.Store
	shops  ShopLookup
	jobs   Enqueuer
	events EventSink
	logger *logrus.Logger
}

func NewDispatcher(st *store.Store, shops ShopLookup, jobs Enqueuer, events EventSink, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{store: st, shops: shops, jobs: jobs, events: events, logger: logger}
}

// CompleteUpload draft → uploaded，然后为每个 item 入队一个预检任务，并排队一条 upload_received。
// 非 draft 返回 ErrInvalidState。
//
// 入队失败只记日志：upload 已是 uploaded，运维可以通过 Redispatch 补发。
func (d *Dispatcher) CompleteUpload(ctx context.Context, uploadID string, items []store.ItemUpdate) (Completion, error) {
	cur, err := d.store.GetUpload(ctx, uploadID)
	if err != nil {
		return Completion{}, err
	}
	if cur.Status != model.UploadDraft {
		return Completion{}, fmt.Errorf("complete %s upload %s: %w", cur.Status, uploadID, model.ErrInvalidState)
	}

	shop, err := d.shops.ShopByID(ctx, cur.ShopID)
	if err != nil {
		return Completion{}, err
	}

	u, err := d.store.MarkUploaded(ctx, uploadID, items, shop.AutoApprove)
	if err != nil {
		return Completion{}, err
	}

	log := d.logger.WithFields(logrus.Fields{
		"field":     "PreflightDispatcher",
		"shop_id":   u.ShopID,
		"upload_id": u.ID,
	})

	jobs := d.enqueueAll(ctx, log, u, u.Items)

	locations := make([]string, 0, len(u.Items))
	for _, it := range u.Items {
		if it.Location != "" {
			locations = append(locations, it.Location)
		}
	}
	if _, err := d.events.Enqueue(ctx, u.ShopID, model.EventUploadReceived, u.ID, model.UploadReceivedPayload{
		UploadID:  u.ID,
		Mode:      u.Mode,
		ItemCount: len(u.Items),
		Locations: locations,
	}); err != nil {
		log.Warn("queue upload_received event: " + err.Error())
	}

	log.WithField("jobs", jobs).Info("upload completed")
	return Completion{UploadID: u.ID, Status: model.UploadProcessing, Jobs: jobs}, nil
}

// ReportVerdict 写入单个 item 的结论并重算汇总。非 ok 结论额外排队 preflight_result 事件。
func (d *Dispatcher) ReportVerdict(ctx context.Context, v Verdict) (*model.Upload, error) {
	if v.UploadID == "" || v.ItemID == "" {
		return nil, fmt.Errorf("verdict without uploadId/itemId: %w", model.ErrMalformedPayload)
	}
	if !v.Status.Valid() {
		return nil, fmt.Errorf("verdict status %q: %w", v.Status, model.ErrMalformedPayload)
	}
	if v.ShopID != "" {
		u, err := d.store.GetUpload(ctx, v.UploadID)
		if err != nil {
			return nil, err
		}
		if u.ShopID != v.ShopID {
			return nil, fmt.Errorf("upload %s not in shop %s: %w", v.UploadID, v.ShopID, model.ErrNotFound)
		}
	}

	out, err := d.store.ApplyVerdict(ctx, v.UploadID, v.ItemID, v.Status, v.Result)
	if err != nil {
		return nil, err
	}

	log := d.logger.WithFields(logrus.Fields{
		"field":     "PreflightDispatcher",
		"shop_id":   out.Upload.ShopID,
		"upload_id": out.Upload.ID,
		"item_id":   v.ItemID,
		"verdict":   v.Status,
		"summary":   out.Upload.PreflightSummary,
	})
	if out.StatusChanged() {
		log = log.WithField("status", out.Upload.Status)
	}
	log.Info("preflight verdict applied")

	// 终态 upload 只记录结论，不再对外通知
	if v.Status != model.PreflightOK && !out.PreviousStatus.IsFinal() {
		if _, err := d.events.Enqueue(ctx, out.Upload.ShopID, model.EventPreflightResult, out.Upload.ID, model.PreflightResultPayload{
			UploadID: out.Upload.ID,
			ItemID:   v.ItemID,
			Location: out.Item.Location,
			Status:   v.Status,
			Checks:   v.Result.Checks,
		}); err != nil {
			log.Warn("queue preflight_result event: " + err.Error())
		}
	}
	return out.Upload, nil
}

// Redispatch 重新入队仍为 pending 的 item，用于完成时队列不可用的补救。
func (d *Dispatcher) Redispatch(ctx context.Context, uploadID string) (int, error) {
	u, err := d.store.GetUpload(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	switch u.Status {
	case model.UploadUploaded, model.UploadProcessing:
	default:
		return 0, fmt.Errorf("redispatch %s upload %s: %w", u.Status, uploadID, model.ErrInvalidState)
	}
	pending, err := d.store.PendingItems(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	log := d.logger.WithFields(logrus.Fields{
		"field":     "PreflightDispatcher",
		"shop_id":   u.ShopID,
		"upload_id": u.ID,
	})
	n := d.enqueueAll(ctx, log, u, pending)
	if n < len(pending) {
		return n, fmt.Errorf("redispatch upload %s: %d of %d jobs enqueued", uploadID, n, len(pending))
	}
	return n, nil
}

func (d *Dispatcher) enqueueAll(ctx context.Context, log *logrus.Entry, u *model.Upload, items []model.UploadItem) int {
	n := 0
	for _, it := range items {
		err := d.jobs.EnqueueJob(ctx, Job{
			UploadID:   u.ID,
			ShopID:     u.ShopID,
			ItemID:     it.ID,
			StorageKey: it.StorageKey,
			Location:   it.Location,
		})
		if err != nil {
			log.WithField("item_id", it.ID).Error("enqueue preflight job: " + err.Error())
			continue
		}
		n++
	}
	return n
}
