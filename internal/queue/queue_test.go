package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"print_upload/internal/model"
	"print_upload/internal/preflight"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobValuesRoundTripThroughStreamParser(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	job := preflight.Job{UploadID: "u1", ShopID: "s1", ItemID: "i1", StorageKey: "s3://b/k", Location: "front"}

	msg, err := parseJobEvent(jobValues(job, at))
	require.NoError(t, err)
	assert.Equal(t, PreflightJobMessage{
		UploadID: "u1", ShopID: "s1", ItemID: "i1", StorageKey: "s3://b/k", Location: "front", QueuedAt: at,
	}, msg)
}

func TestParseJobEventRejectsIncompleteEntries(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{"upload_id": "u1", "shop_id": "s1", "item_id": "i1"}
	}

	msg, err := parseJobEvent(base())
	require.NoError(t, err)
	assert.True(t, msg.QueuedAt.IsZero())

	for _, key := range []string{"upload_id", "shop_id", "item_id"} {
		v := base()
		delete(v, key)
		_, err := parseJobEvent(v)
		assert.Error(t, err, key)

		v = base()
		v[key] = ""
		_, err = parseJobEvent(v)
		assert.Error(t, err, key)
	}

	v := base()
	v["queued_at"] = "yesterday"
	_, err = parseJobEvent(v)
	assert.Error(t, err)
}

type fakeReporter struct {
	got []preflight.Verdict
	err error
}

func (f *fakeReporter) ReportVerdict(_ context.Context, v preflight.Verdict) (*model.Upload, error) {
	f.got = append(f.got, v)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Upload{ID: v.UploadID}, nil
}

func TestVerdictConsumerHandle(t *testing.T) {
	rep := &fakeReporter{}
	c := &VerdictConsumer{reporter: rep}
	ctx := context.Background()

	err := c.handle(ctx, []byte(`{"uploadId":"u1","shopId":"s1","itemId":"i1","status":"warning",
		"result":{"checks":[{"name":"dpi","status":"warning","message":"low"}]}}`))
	require.NoError(t, err)
	require.Len(t, rep.got, 1)
	assert.Equal(t, preflight.Verdict{
		UploadID: "u1", ShopID: "s1", ItemID: "i1", Status: model.PreflightWarning,
		Result: model.PreflightResult{Checks: []model.PreflightCheck{{Name: "dpi", Status: model.PreflightWarning, Message: "low"}}},
	}, rep.got[0])

	for _, bad := range []string{
		`{broken`,
		`{"uploadId":"u1","itemId":"i1","status":"pending"}`,
		`{"uploadId":"","itemId":"i1","status":"ok"}`,
	} {
		assert.Error(t, c.handle(ctx, []byte(bad)), bad)
	}
	assert.Len(t, rep.got, 1, "invalid messages never reach the reporter")
}

func TestVerdictConsumerDropsUnknownUpload(t *testing.T) {
	rep := &fakeReporter{err: fmt.Errorf("upload x: %w", model.ErrNotFound)}
	c := &VerdictConsumer{reporter: rep}

	err := c.handle(context.Background(), []byte(`{"uploadId":"x","itemId":"i","status":"ok"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "drop verdict")

	rep.err = errors.New("db down")
	err = c.handle(context.Background(), []byte(`{"uploadId":"x","itemId":"i","status":"ok"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report verdict x/i")
}

func TestPreflightJobMessageValidate(t *testing.T) {
	assert.NoError(t, PreflightJobMessage{UploadID: "u", ShopID: "s", ItemID: "i"}.Validate())
	assert.Error(t, PreflightJobMessage{ShopID: "s", ItemID: "i"}.Validate())
	assert.Error(t, PreflightJobMessage{UploadID: "u", ItemID: "i"}.Validate())
	assert.Error(t, PreflightJobMessage{UploadID: "u", ShopID: "s"}.Validate())
}

func TestJobMessageKeyedByUpload(t *testing.T) {
	m, err := jobMessage(PreflightJobMessage{UploadID: "u1", ShopID: "s1", ItemID: "i1", Location: "front"})
	require.NoError(t, err)
	assert.Equal(t, "u1", string(m.Key))
	assert.JSONEq(t, `{"upload_id":"u1","shop_id":"s1","item_id":"i1","storage_key":"","location":"front","queued_at":"0001-01-01T00:00:00Z"}`, string(m.Value))
	require.Len(t, m.Headers, 2)
	assert.Equal(t, "shop_id", m.Headers[0].Key)
	assert.Equal(t, "s1", string(m.Headers[0].Value))
}

func TestPublishJobsEmptyBatchIsNoop(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "jobs")
	defer p.Close()
	assert.NoError(t, p.PublishJobs(context.Background()))
}
