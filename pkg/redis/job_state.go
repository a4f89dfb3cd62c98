package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// JobQueued 已写入 Redis Stream，等待转发。
	JobQueued = "queued"
	// JobRelayed 已发布到 Kafka，等待校验器结论。
	JobRelayed = "relayed"
	// JobDone 结论已回写。
	JobDone = "done"
)

// JobStateTTL 任务状态只用于排查，过期即可。
const JobStateTTL = 72 * time.Hour

// JobState 对应 Redis 内单个预检任务的状态结构。
type JobState struct {
	UploadID string `json:"upload_id"`
	ItemID   string `json:"item_id"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// GetJobState 查询任务状态。found=false 表示 key 不存在（从未入队或已过期）。
func GetJobState(ctx context.Context, rdb *rd.Client, uploadID, itemID string) (JobState, bool, error) {
	m, err := rdb.HGetAll(ctx, PreflightJobKey(uploadID, itemID)).Result()
	if err != nil {
		return JobState{}, false, err
	}
	if len(m) == 0 {
		return JobState{}, false, nil
	}

	out := JobState{
		UploadID: uploadID,
		ItemID:   itemID,
		Status:   m["status"],
		Detail:   m["detail"],
	}
	if out.Status == "" {
		out.Status = JobQueued
	}
	return out, true, nil
}

// PutJobState 更新任务状态，并刷新 key TTL。
func PutJobState(ctx context.Context, rdb *rd.Client, uploadID, itemID, status, detail string) error {
	key := PreflightJobKey(uploadID, itemID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"upload_id", uploadID,
		"item_id", itemID,
		"status", status,
		"detail", detail,
	)
	pipe.Expire(ctx, key, JobStateTTL)
	_, err := pipe.Exec(ctx)
	return err
}
