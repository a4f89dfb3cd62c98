package preflight_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"print_upload/internal/commission"
	"print_upload/internal/config"
	"print_upload/internal/flow"
	"print_upload/internal/model"
	"print_upload/internal/preflight"
	"print_upload/internal/store"
	"print_upload/internal/webhook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []preflight.Job
	fail bool
}

func (r *recordingEnqueuer) EnqueueJob(_ context.Context, job preflight.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("stream unavailable")
	}
	r.jobs = append(r.jobs, job)
	return nil
}

type noopClient struct{}

func (noopClient) Trigger(context.Context, *model.Shop, string, json.RawMessage) error { return nil }

type harness struct {
	store      *store.Store
	jobs       *recordingEnqueuer
	dispatcher *preflight.Dispatcher
	events     *flow.Queue
	shop       *model.Shop
}

func newHarness(t *testing.T, autoApprove bool) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	st := store.New(db)
	shop := &model.Shop{Domain: "a.test", WebhookSecret: "whsec", AccessToken: "tok", AutoApprove: autoApprove, FlowEnabled: true}
	require.NoError(t, st.CreateShop(context.Background(), shop))

	h := &harness{store: st, jobs: &recordingEnqueuer{}, shop: shop}
	h.events = flow.NewQueue(db, st, noopClient{}, nil, time.Second)
	h.dispatcher = preflight.NewDispatcher(st, st, h.jobs, h.events, nil)
	return h
}

func (h *harness) draft(t *testing.T, mode model.UploadMode, locations ...string) *model.Upload {
	t.Helper()
	u := &model.Upload{ShopID: h.shop.ID, Mode: mode, Status: model.UploadDraft, Metadata: map[string]any{}}
	for _, loc := range locations {
		u.Items = append(u.Items, model.UploadItem{Location: loc, StorageKey: "s3://bucket/" + loc})
	}
	require.NoError(t, h.store.CreateUpload(context.Background(), u))
	return u
}

func (h *harness) triggers(t *testing.T, event model.EventType) []model.FlowTrigger {
	t.Helper()
	var list []model.FlowTrigger
	require.NoError(t, h.store.DB().Where("shop_id = ? AND event_type = ?", h.shop.ID, event).Find(&list).Error)
	return list
}

func TestCompleteUploadEnqueuesOneJobPerItem(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	u := h.draft(t, model.ModeDTFOnly, "front", "back", "sleeve")

	res, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.UploadProcessing, res.Status)
	assert.Equal(t, 3, res.Jobs)

	require.Len(t, h.jobs.jobs, 3)
	seen := map[string]bool{}
	for _, j := range h.jobs.jobs {
		assert.Equal(t, u.ID, j.UploadID)
		assert.Equal(t, h.shop.ID, j.ShopID)
		assert.NotEmpty(t, j.StorageKey)
		seen[j.ItemID] = true
	}
	assert.Len(t, seen, 3)

	got, err := h.store.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadUploaded, got.Status)
	assert.False(t, got.AutoApprove())

	received := h.triggers(t, model.EventUploadReceived)
	require.Len(t, received, 1)
	var payload model.UploadReceivedPayload
	require.NoError(t, json.Unmarshal([]byte(received[0].Payload), &payload))
	assert.Equal(t, u.ID, payload.UploadID)
	assert.Equal(t, model.ModeDTFOnly, payload.Mode)
	assert.Equal(t, 3, payload.ItemCount)
	assert.ElementsMatch(t, []string{"front", "back", "sleeve"}, payload.Locations)
}

func TestCompleteUploadRequiresDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	u := h.draft(t, model.ModeQuick, "front")

	_, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
	require.NoError(t, err)
	_, err = h.dispatcher.CompleteUpload(ctx, u.ID, nil)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	assert.Len(t, h.jobs.jobs, 1, "second completion must not enqueue jobs")
	assert.Len(t, h.triggers(t, model.EventUploadReceived), 1)

	_, err = h.dispatcher.CompleteUpload(ctx, "missing", nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCompleteUploadAppliesItemUpdates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	u := h.draft(t, model.ModeBuilder, "front")

	_, err := h.dispatcher.CompleteUpload(ctx, u.ID, []store.ItemUpdate{{
		ItemID: u.Items[0].ID, Location: "back", Transform: map[string]any{"rotate": float64(90)},
	}})
	require.NoError(t, err)

	require.Len(t, h.jobs.jobs, 1)
	assert.Equal(t, "back", h.jobs.jobs[0].Location)
	got, err := h.store.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(90), got.Items[0].Transform["rotate"])
}

func TestReportVerdictResolvesStatus(t *testing.T) {
	ok := func(status model.PreflightStatus) preflight.Verdict { return preflight.Verdict{Status: status} }
	cases := []struct {
		name     string
		auto     bool
		verdicts []preflight.Verdict
		want     model.UploadStatus
		summary  model.PreflightStatus
	}{
		{"all ok with auto approve", true, []preflight.Verdict{ok(model.PreflightOK), ok(model.PreflightOK)}, model.UploadApproved, model.PreflightOK},
		{"all ok without auto approve", false, []preflight.Verdict{ok(model.PreflightOK), ok(model.PreflightOK)}, model.UploadPendingApproval, model.PreflightOK},
		{"warning", true, []preflight.Verdict{ok(model.PreflightOK), ok(model.PreflightWarning)}, model.UploadNeedsReview, model.PreflightWarning},
		{"error wins", true, []preflight.Verdict{ok(model.PreflightWarning), ok(model.PreflightError)}, model.UploadBlocked, model.PreflightError},
		{"partial", false, []preflight.Verdict{ok(model.PreflightOK)}, model.UploadProcessing, model.PreflightPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tc.auto)
			u := h.draft(t, model.ModeDTFOnly, "front", "back")
			_, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
			require.NoError(t, err)

			var got *model.Upload
			for i, v := range tc.verdicts {
				v.UploadID, v.ShopID, v.ItemID = u.ID, h.shop.ID, u.Items[i].ID
				got, err = h.dispatcher.ReportVerdict(ctx, v)
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, got.Status)
			assert.Equal(t, tc.summary, got.PreflightSummary)
		})
	}
}

func TestReportVerdictQueuesEventOnlyForProblems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	u := h.draft(t, model.ModeDTFOnly, "front", "back")
	_, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
	require.NoError(t, err)

	_, err = h.dispatcher.ReportVerdict(ctx, preflight.Verdict{UploadID: u.ID, ItemID: u.Items[0].ID, Status: model.PreflightOK})
	require.NoError(t, err)
	assert.Empty(t, h.triggers(t, model.EventPreflightResult))

	checks := []model.PreflightCheck{{Name: "dpi", Status: model.PreflightWarning, Message: "150 dpi"}}
	_, err = h.dispatcher.ReportVerdict(ctx, preflight.Verdict{
		UploadID: u.ID, ItemID: u.Items[1].ID, Status: model.PreflightWarning,
		Result: model.PreflightResult{Checks: checks},
	})
	require.NoError(t, err)

	events := h.triggers(t, model.EventPreflightResult)
	require.Len(t, events, 1)
	var payload model.PreflightResultPayload
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &payload))
	assert.Equal(t, u.Items[1].ID, payload.ItemID)
	assert.Equal(t, "back", payload.Location)
	assert.Equal(t, model.PreflightWarning, payload.Status)
	assert.Equal(t, checks, payload.Checks)
}

func TestReportVerdictValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	u := h.draft(t, model.ModeDTFOnly, "front")

	_, err := h.dispatcher.ReportVerdict(ctx, preflight.Verdict{ItemID: u.Items[0].ID, Status: model.PreflightOK})
	assert.ErrorIs(t, err, model.ErrMalformedPayload)
	_, err = h.dispatcher.ReportVerdict(ctx, preflight.Verdict{UploadID: u.ID, ItemID: u.Items[0].ID, Status: model.PreflightPending})
	assert.ErrorIs(t, err, model.ErrMalformedPayload)
	_, err = h.dispatcher.ReportVerdict(ctx, preflight.Verdict{UploadID: u.ID, ShopID: "other", ItemID: u.Items[0].ID, Status: model.PreflightOK})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = h.dispatcher.ReportVerdict(ctx, preflight.Verdict{UploadID: u.ID, ItemID: "nope", Status: model.PreflightOK})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRedispatchAfterEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	u := h.draft(t, model.ModeDTFOnly, "front", "back")

	h.jobs.fail = true
	res, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Jobs)

	_, err = h.dispatcher.Redispatch(ctx, u.ID)
	assert.Error(t, err)

	h.jobs.fail = false
	n, err := h.dispatcher.Redispatch(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = h.dispatcher.ReportVerdict(ctx, preflight.Verdict{UploadID: u.ID, ItemID: u.Items[0].ID, Status: model.PreflightOK})
	require.NoError(t, err)
	n, err = h.dispatcher.Redispatch(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	draft := h.draft(t, model.ModeDTFOnly, "front")
	_, err = h.dispatcher.Redispatch(ctx, draft.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

// 店面提交 → 预检全部通过 → 订单 webhook 重复投递。
func TestUploadThroughOrderEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	ledger := commission.NewLedger(h.store.DB(), nil, decimal.RequireFromString("0.50"), config.CancelPolicyRetain)
	ingestor := webhook.NewIngestor(h.store, ledger, nil, "")

	u := h.draft(t, model.ModeTshirtIncluded, "front", "back")
	_, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
	require.NoError(t, err)
	require.Len(t, h.jobs.jobs, 2)

	for _, job := range h.jobs.jobs {
		_, err := h.dispatcher.ReportVerdict(ctx, preflight.Verdict{
			UploadID: job.UploadID, ShopID: job.ShopID, ItemID: job.ItemID, Status: model.PreflightOK,
		})
		require.NoError(t, err)
	}
	got, err := h.store.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadApproved, got.Status)
	assert.Equal(t, model.PreflightOK, got.PreflightSummary)
	assert.Len(t, h.triggers(t, model.EventUploadReceived), 1)
	assert.Empty(t, h.triggers(t, model.EventPreflightResult))

	body := []byte(fmt.Sprintf(`{"id":5001,"total_price":"35.00","currency":"USD",
		"line_items":[{"id":9001,"product_id":42,"properties":[{"name":"_upload_id","value":%q}]}]}`, u.ID))
	for i := 0; i < 2; i++ {
		_, err := ingestor.HandleOrderCreated(ctx, body, webhook.Sign(body, "whsec"), "a.test")
		require.NoError(t, err)
	}

	got, err = h.store.GetUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "5001", got.OrderID)
	assert.Equal(t, model.UploadApproved, got.Status, "approved upload is not pulled back into review")

	n, err := h.store.CountLinks(ctx, h.shop.ID, "5001")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	pending, err := ledger.Pending(ctx, h.shop.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0.50", pending[0].CommissionAmount.StringFixed(2))
}

// 客户先下单、预检后返回：问题结论照常落定，ok 停在人工审核。
func TestVerdictAfterOrderLink(t *testing.T) {
	cases := []struct {
		verdict model.PreflightStatus
		want    model.UploadStatus
	}{
		{model.PreflightError, model.UploadBlocked},
		{model.PreflightWarning, model.UploadNeedsReview},
		{model.PreflightOK, model.UploadNeedsReview},
	}
	for _, tc := range cases {
		t.Run(string(tc.verdict), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, true)
			ledger := commission.NewLedger(h.store.DB(), nil, decimal.RequireFromString("0.50"), config.CancelPolicyRetain)
			ingestor := webhook.NewIngestor(h.store, ledger, nil, "")

			u := h.draft(t, model.ModeDTFOnly, "front")
			_, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
			require.NoError(t, err)

			body := []byte(fmt.Sprintf(`{"id":7001,"total_price":"20.00","currency":"USD",
				"line_items":[{"id":1,"product_id":42,"properties":[{"name":"_upload_id","value":%q}]}]}`, u.ID))
			_, err = ingestor.HandleOrderCreated(ctx, body, webhook.Sign(body, "whsec"), "a.test")
			require.NoError(t, err)
			linked, err := h.store.GetUpload(ctx, u.ID)
			require.NoError(t, err)
			require.Equal(t, model.UploadNeedsReview, linked.Status)

			got, err := h.dispatcher.ReportVerdict(ctx, preflight.Verdict{UploadID: u.ID, ItemID: u.Items[0].ID, Status: tc.verdict})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
			assert.Equal(t, tc.verdict, got.PreflightSummary)
			assert.Equal(t, "7001", got.OrderID)
		})
	}
}

func TestVerdictOnArchivedUploadIsRecordedQuietly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	u := h.draft(t, model.ModeDTFOnly, "front")
	_, err := h.dispatcher.CompleteUpload(ctx, u.ID, nil)
	require.NoError(t, err)
	_, err = h.store.Transition(ctx, u.ID, []model.UploadStatus{model.UploadUploaded}, model.UploadArchived, "system", "order cancelled")
	require.NoError(t, err)

	got, err := h.dispatcher.ReportVerdict(ctx, preflight.Verdict{UploadID: u.ID, ItemID: u.Items[0].ID, Status: model.PreflightError})
	require.NoError(t, err)
	assert.Equal(t, model.UploadArchived, got.Status)
	assert.Equal(t, model.PreflightError, got.PreflightSummary)
	assert.Empty(t, h.triggers(t, model.EventPreflightResult))
}
