package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rediskey "print_upload/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	relayBatch = 32
	// claimIdle 其他 relay 实例崩溃后留下的未 ACK 消息，空闲超过该时长即接管。
	claimIdle = time.Minute
	maxPause  = 5 * time.Second
)

// Relay 把 Redis Stream 里的预检任务成批转发到 Kafka。
// 整批发布成功才 ACK 并删除；失败的批次留在 PEL 中，下一轮通过 XAUTOCLAIM 重新取回。
type Relay struct {
	rdb      *rd.Client
	producer *Producer
	logger   *logrus.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer *Producer, logger *logrus.Logger, stream, group, consumer string) *Relay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Relay{rdb: rdb, producer: producer, logger: logger, stream: stream, group: group, consumer: consumer}
}

// Run 阻塞直到 ctx 取消。连续失败时暂停时间翻倍，上限 maxPause。
func (r *Relay) Run(ctx context.Context) {
	log := r.logger.WithFields(logrus.Fields{"field": "PreflightRelay", "stream": r.stream, "consumer": r.consumer})

	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		log.Error("create consumer group: " + err.Error())
		return
	}

	pause := 100 * time.Millisecond
	for ctx.Err() == nil {
		n, err := r.pump(ctx)
		if err == nil {
			pause = 100 * time.Millisecond
			if n > 0 {
				log.WithField("jobs", n).Debug("preflight jobs relayed")
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("relay: " + err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
		if pause *= 2; pause > maxPause {
			pause = maxPause
		}
	}
}

// pump 取一批（优先接管滞留消息）并转发，返回成功转发的任务数。
func (r *Relay) pump(ctx context.Context) (int, error) {
	batch, _, err := r.rdb.XAutoClaim(ctx, &rd.XAutoClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  claimIdle,
		Start:    "0-0",
		Count:    relayBatch,
	}).Result()
	if err != nil && !errors.Is(err, rd.Nil) {
		return 0, fmt.Errorf("claim stale jobs: %w", err)
	}

	if len(batch) == 0 {
		streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, ">"},
			Count:    relayBatch,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return 0, nil
			}
			return 0, fmt.Errorf("read new jobs: %w", err)
		}
		for _, s := range streams {
			batch = append(batch, s.Messages...)
		}
	}
	return r.forward(ctx, batch)
}

// forward 脏消息直接丢弃，其余整批发布。
func (r *Relay) forward(ctx context.Context, batch []rd.XMessage) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	jobs := make([]PreflightJobMessage, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, xm := range batch {
		ids = append(ids, xm.ID)
		job, err := parseJobEvent(xm.Values)
		if err != nil {
			r.logger.WithFields(logrus.Fields{"field": "PreflightRelay", "message_id": xm.ID}).
				Warn("drop malformed job: " + err.Error())
			continue
		}
		jobs = append(jobs, job)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.producer.PublishJobs(pubCtx, jobs...); err != nil {
		return 0, fmt.Errorf("publish %d jobs: %w", len(jobs), err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, ids...)
	pipe.XDel(ctx, r.stream, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		// 已发布但未 ACK：下一轮会重发，校验器按 item 覆盖写，重复无害
		return 0, fmt.Errorf("ack relayed jobs: %w", err)
	}
	for _, j := range jobs {
		_ = rediskey.PutJobState(ctx, r.rdb, j.UploadID, j.ItemID, rediskey.JobRelayed, "")
	}
	return len(jobs), nil
}

// parseJobEvent 还原 jobValues 写入的字段。upload_id / shop_id / item_id 必填。
func parseJobEvent(values map[string]interface{}) (PreflightJobMessage, error) {
	field := func(key string) string {
		switch v := values[key].(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}

	msg := PreflightJobMessage{
		UploadID:   field("upload_id"),
		ShopID:     field("shop_id"),
		ItemID:     field("item_id"),
		StorageKey: field("storage_key"),
		Location:   field("location"),
	}
	if at := field("queued_at"); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return PreflightJobMessage{}, fmt.Errorf("queued_at %q: %w", at, err)
		}
		msg.QueuedAt = t
	}
	if err := msg.Validate(); err != nil {
		return PreflightJobMessage{}, err
	}
	return msg, nil
}
