package upload

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"print_upload/internal/model"
	"print_upload/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.Store, *model.Shop) {
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
	shop := &model.Shop{Domain: "a.test", WebhookSecret: "s", FlowEnabled: true}
	require.NoError(t, st.CreateShop(context.Background(), shop))
	return NewService(st, nil), st, shop
}

func withStatus(t *testing.T, st *store.Store, shopID string, status model.UploadStatus) *model.Upload {
	t.Helper()
	u := &model.Upload{ShopID: shopID, Mode: model.ModeQuick, Status: status, Items: []model.UploadItem{{Location: "front"}}}
	require.NoError(t, st.CreateUpload(context.Background(), u))
	return u
}

func TestDraftRequestValidate(t *testing.T) {
	assert.NoError(t, DraftRequest{ShopID: "s", Mode: model.ModeBuilder}.Validate())
	assert.Error(t, DraftRequest{Mode: model.ModeBuilder}.Validate())
	assert.Error(t, DraftRequest{ShopID: "s", Mode: "poster"}.Validate())
	assert.Error(t, DraftRequest{ShopID: "s", Mode: model.ModeQuick, Items: []ItemRequest{{FileSize: -1}}}.Validate())
}

func TestCreateDraft(t *testing.T) {
	ctx := context.Background()
	svc, st, shop := newTestService(t)

	u, err := svc.CreateDraft(ctx, DraftRequest{
		ShopID: shop.ID, Mode: model.ModeTshirtIncluded, ProductID: "p1", CustomerEmail: "  c@x.test ",
		Items: []ItemRequest{{Location: "front", StorageKey: "k1", MimeType: "image/png", FileSize: 2048}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.UploadDraft, u.Status)
	assert.Equal(t, model.OriginReal, u.Origin)
	assert.Equal(t, model.PreflightPending, u.PreflightSummary)
	assert.Equal(t, "c@x.test", u.CustomerEmail)
	require.Len(t, u.Items, 1)
	assert.Equal(t, model.PreflightPending, u.Items[0].PreflightStatus)

	trail, err := st.AuditTrail(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "draft_created", trail[0].Action)

	_, err = svc.CreateDraft(ctx, DraftRequest{ShopID: "ghost-shop", Mode: model.ModeQuick})
	assert.ErrorIs(t, err, model.ErrTenantNotFound)
	_, err = svc.CreateDraft(ctx, DraftRequest{ShopID: shop.ID, Mode: "nope"})
	assert.ErrorIs(t, err, model.ErrMalformedPayload)
}

func TestAddItemChecksOwnership(t *testing.T) {
	ctx := context.Background()
	svc, _, shop := newTestService(t)
	u, err := svc.CreateDraft(ctx, DraftRequest{ShopID: shop.ID, Mode: model.ModeDTFOnly})
	require.NoError(t, err)

	item, err := svc.AddItem(ctx, shop.ID, u.ID, ItemRequest{Location: "back", StorageKey: "k"})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, u.ID, item.UploadID)

	_, err = svc.AddItem(ctx, "other", u.ID, ItemRequest{Location: "sleeve"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := svc.Get(ctx, shop.ID, u.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
}

func TestReviewTransitions(t *testing.T) {
	ctx := context.Background()
	svc, st, shop := newTestService(t)

	cases := []struct {
		name string
		from model.UploadStatus
		do   func(id string) (*model.Upload, error)
		want model.UploadStatus
		ok   bool
	}{
		{"approve needs review", model.UploadNeedsReview, func(id string) (*model.Upload, error) { return svc.Approve(ctx, shop.ID, id, "") }, model.UploadApproved, true},
		{"approve blocked ghost", model.UploadBlocked, func(id string) (*model.Upload, error) { return svc.Approve(ctx, shop.ID, id, "ops") }, model.UploadApproved, true},
		{"approve draft", model.UploadDraft, func(id string) (*model.Upload, error) { return svc.Approve(ctx, shop.ID, id, "") }, "", false},
		{"reject processing", model.UploadProcessing, func(id string) (*model.Upload, error) { return svc.Reject(ctx, shop.ID, id, "", "blurry") }, model.UploadRejected, true},
		{"reject approved", model.UploadApproved, func(id string) (*model.Upload, error) { return svc.Reject(ctx, shop.ID, id, "", "late") }, "", false},
		{"unreject", model.UploadRejected, func(id string) (*model.Upload, error) { return svc.Unreject(ctx, shop.ID, id, "") }, model.UploadNeedsReview, true},
		{"unreject archived", model.UploadArchived, func(id string) (*model.Upload, error) { return svc.Unreject(ctx, shop.ID, id, "") }, "", false},
		{"ship approved", model.UploadApproved, func(id string) (*model.Upload, error) { return svc.MarkShipped(ctx, shop.ID, id, "") }, model.UploadShipped, true},
		{"ship pending approval", model.UploadPendingApproval, func(id string) (*model.Upload, error) { return svc.MarkShipped(ctx, shop.ID, id, "") }, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := withStatus(t, st, shop.ID, tc.from)
			got, err := tc.do(u.ID)
			if !tc.ok {
				assert.ErrorIs(t, err, model.ErrInvalidState)
				again, err := st.GetUpload(ctx, u.ID)
				require.NoError(t, err)
				assert.Equal(t, tc.from, again.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Status)
		})
	}
}

func TestReviewAuditsActor(t *testing.T) {
	ctx := context.Background()
	svc, st, shop := newTestService(t)
	u := withStatus(t, st, shop.ID, model.UploadNeedsReview)

	_, err := svc.Reject(ctx, shop.ID, u.ID, "jane", "wrong size")
	require.NoError(t, err)
	_, err = svc.Unreject(ctx, shop.ID, u.ID, "")
	require.NoError(t, err)

	trail, err := st.AuditTrail(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "status_rejected", trail[0].Action)
	assert.Equal(t, "jane", trail[0].Actor)
	assert.Equal(t, "wrong size", trail[0].Detail)
	assert.Equal(t, "merchant", trail[1].Actor)
}

func TestReviewOtherShopIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, st, shop := newTestService(t)
	u := withStatus(t, st, shop.ID, model.UploadNeedsReview)

	_, err := svc.Approve(ctx, "someone-else", u.ID, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.Get(ctx, "someone-else", u.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	svc, st, shop := newTestService(t)
	withStatus(t, st, shop.ID, model.UploadBlocked)
	withStatus(t, st, shop.ID, model.UploadBlocked)
	withStatus(t, st, shop.ID, model.UploadApproved)

	all, err := svc.List(ctx, shop.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	blocked, err := svc.List(ctx, shop.ID, model.UploadBlocked, 10)
	require.NoError(t, err)
	assert.Len(t, blocked, 2)
}
