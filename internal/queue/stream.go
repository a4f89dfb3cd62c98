package queue

import (
	"context"
	"fmt"
	"time"

	"print_upload/internal/preflight"
	rediskey "print_upload/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// StreamEnqueuer 把预检任务 XADD 到 Redis Stream，由 Relay 异步转发到 Kafka。
// 入队只依赖 Redis，Kafka 不可用时完成上传也不会阻塞。
type StreamEnqueuer struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewStreamEnqueuer(rdb *rd.Client, stream string) *StreamEnqueuer {
	return &StreamEnqueuer{rdb: rdb, stream: stream, maxLen: 100000}
}

func (e *StreamEnqueuer) EnqueueJob(ctx context.Context, job preflight.Job) error {
	err := e.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: e.stream,
		MaxLen: e.maxLen,
		Approx: true,
		Values: jobValues(job, time.Now().UTC()),
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd preflight job: %w", err)
	}
	// 状态只用于排查，写失败不影响入队结果
	_ = rediskey.PutJobState(ctx, e.rdb, job.UploadID, job.ItemID, rediskey.JobQueued, "")
	return nil
}

func jobValues(job preflight.Job, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"upload_id":   job.UploadID,
		"shop_id":     job.ShopID,
		"item_id":     job.ItemID,
		"storage_key": job.StorageKey,
		"location":    job.Location,
		"queued_at":   at.Format(time.RFC3339Nano),
	}
}
