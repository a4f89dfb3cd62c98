package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"print_upload/internal/model"
	"print_upload/internal/preflight"
	rediskey "print_upload/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// VerdictReporter preflight.Dispatcher 的结论入口。
type VerdictReporter interface {
	ReportVerdict(ctx context.Context, v preflight.Verdict) (*model.Upload, error)
}

// VerdictConsumer 消费校验器写回的结论。
type VerdictConsumer struct {
	r        *kafka.Reader
	reporter VerdictReporter
	rdb      *rd.Client
	logger   *logrus.Logger
}

func NewVerdictConsumer(brokers []string, topic, groupID string, reporter VerdictReporter, rdb *rd.Client, logger *logrus.Logger) *VerdictConsumer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &VerdictConsumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		reporter: reporter,
		rdb:      rdb,
		logger:   logger,
	}
}

func (c *VerdictConsumer) Close() error { return c.r.Close() }

func (c *VerdictConsumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := c.handle(ctx, m.Value); err != nil {
			c.logger.WithFields(logrus.Fields{
				"field":     "VerdictConsumer",
				"partition": m.Partition,
				"offset":    m.Offset,
			}).Warn(err.Error())
		}
	}
}

// handle 处理一条结论。重复结论天然幂等（整体重算汇总），
// 指向不存在的 upload / item 的消息直接丢弃。
func (c *VerdictConsumer) handle(ctx context.Context, value []byte) error {
	var msg VerdictMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("drop verdict: unmarshal: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("drop verdict: %w", err)
	}

	if _, err := c.reporter.ReportVerdict(ctx, msg.toVerdict()); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("drop verdict for unknown upload/item: %w", err)
		}
		return fmt.Errorf("report verdict %s/%s: %w", msg.UploadID, msg.ItemID, err)
	}

	if c.rdb != nil {
		_ = rediskey.PutJobState(ctx, c.rdb, msg.UploadID, msg.ItemID, rediskey.JobDone, string(msg.Status))
	}
	return nil
}
