package flow

import (
	"context"
	"errors"
	"time"

	rediskey "print_upload/pkg/redis"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// Dispatcher 独立于 webhook 请求链路的投递循环，慢或失败的通知不会阻塞对账。
// 多实例部署时用 Redis 锁保证同一时刻只有一个实例在投递。
type Dispatcher struct {
	queue  *Queue
	locker *redislock.Client
	logger *logrus.Logger

	PollInterval time.Duration
	BatchSize    int
	LockKey      string
	LockTTL      time.Duration
}

// NewDispatcher locker 可以为 nil（单实例或测试）。
func NewDispatcher(queue *Queue, locker *redislock.Client, logger *logrus.Logger, poll time.Duration, batch int) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		locker:       locker,
		logger:       logger,
		PollInterval: poll,
		BatchSize:    batch,
		LockKey:      rediskey.FlowDispatcherLockKey,
		LockTTL:      time.Minute,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce 投递一批到期通知，返回成功条数。
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	if d.locker != nil {
		lock, err := d.locker.Obtain(ctx, d.LockKey, d.LockTTL, nil)
		if err != nil {
			if !errors.Is(err, redislock.ErrNotObtained) && d.logger != nil {
				d.logger.WithField("field", "FlowDispatcher").Warn("obtain dispatcher lock: " + err.Error())
			}
			return 0
		}
		defer func() { _ = lock.Release(context.Background()) }()
	}

	due, err := d.queue.Due(ctx, d.BatchSize)
	if err != nil {
		if d.logger != nil {
			d.logger.WithField("field", "FlowDispatcher").Error("load due triggers: " + err.Error())
		}
		return 0
	}

	sent := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		// 失败已在 Send 内记录并计数，这里只统计
		if _, err := d.queue.Send(ctx, t.ID); err == nil {
			sent++
		}
	}
	return sent
}
