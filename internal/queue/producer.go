package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer 预检任务的 Kafka 写入端。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 同一 upload 的任务用 upload_id 做 key 落在同一分区；
// 要求全部 ISR 确认，任务丢失比重复更糟（重复结论可以重算）。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			BatchSize:    relayBatch,
			BatchTimeout: 20 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// PublishJobs 同步写入一批任务，全部成功才返回 nil。
func (p *Producer) PublishJobs(ctx context.Context, jobs ...PreflightJobMessage) error {
	if len(jobs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(jobs))
	for _, j := range jobs {
		m, err := jobMessage(j)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return p.w.WriteMessages(ctx, msgs...)
}

// jobMessage 校验器按 header 里的 shop_id 选择店铺配置，不必先解 body。
func jobMessage(j PreflightJobMessage) (kafka.Message, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal job %s/%s: %w", j.UploadID, j.ItemID, err)
	}
	return kafka.Message{
		Key:   []byte(j.UploadID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "shop_id", Value: []byte(j.ShopID)},
			{Key: "item_id", Value: []byte(j.ItemID)},
		},
	}, nil
}
