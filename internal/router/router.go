package router

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"print_upload/internal/commission"
	"print_upload/internal/config"
	"print_upload/internal/export"
	"print_upload/internal/flow"
	"print_upload/internal/middleware"
	"print_upload/internal/model"
	"print_upload/internal/preflight"
	"print_upload/internal/store"
	"print_upload/internal/upload"
	"print_upload/internal/webhook"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody 平台订单报文上限。
const maxWebhookBody = 2 << 20

// Deps 路由依赖的组件。Redis 为 nil 时关闭限流与任务状态查询。
type Deps struct {
	Store     *store.Store
	Uploads   *upload.Service
	Preflight *preflight.Dispatcher
	Webhooks  *webhook.Ingestor
	Ledger    *commission.Ledger
	Flow      *flow.Queue
	Exports   *export.Service
	Redis     *rd.Client
	Logger    *logrus.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps, cfg config.AppConfig) {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// 平台 webhook：签名失败 401，报文错误 400，其余一律 200 防止重试风暴
	hooks := r.Group("/webhooks")
	hooks.POST("/orders/create", orderCreated(d))
	hooks.POST("/orders/cancelled", orderCancelled(d))
	hooks.POST("/app/uninstalled", appUninstalled(d))

	// 校验器回调（内部边界）
	r.POST("/api/preflight/callback", preflightCallback(d, cfg.PreflightCallbackToken))

	// 店面提交
	intake := r.Group("/api/uploads")
	if d.Redis != nil {
		intake.Use(middleware.RedisRateLimit(d.Redis, cfg.IntakeRateLimit, cfg.IntakeRateWindow))
	}
	intake.POST("", createDraft(d))
	intake.GET("/:id", storefrontUpload(d))
	intake.POST("/:id/items", addItem(d))
	intake.POST("/:id/complete", completeUpload(d))

	admin := r.Group("/admin", middleware.AdminAuth(cfg.AdminJWTSecret))
	registerAdmin(admin, d)
}

// ok 统一成功响应。
func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok", "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

// statusOf 把领域错误映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrNotSendable):
		return http.StatusConflict
	case errors.Is(err, model.ErrDeliveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	fail(c, statusOf(err), err.Error())
}

// webhookOutcome webhook 专用：未知租户也应答 200。
func webhookOutcome(c *gin.Context, d Deps, topic string, err error, data any) {
	log := d.Logger.WithFields(logrus.Fields{
		"field":  "Webhook",
		"topic":  topic,
		"domain": c.GetHeader(webhook.HeaderDomain),
	})
	switch {
	case err == nil:
		ok(c, data)
	case errors.Is(err, model.ErrTenantNotFound):
		log.Warn("webhook for unknown shop acknowledged")
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ignored"})
	case errors.Is(err, model.ErrAuthentication):
		log.Warn(err.Error())
		fail(c, http.StatusUnauthorized, "invalid webhook signature")
	case errors.Is(err, model.ErrMalformedPayload):
		log.Warn(err.Error())
		fail(c, http.StatusBadRequest, err.Error())
	default:
		log.Error(err.Error())
		fail(c, http.StatusInternalServerError, "webhook processing failed")
	}
}

// readRaw 签名必须在原始 body 上计算，先读出字节再交给 ingestor。
func readRaw(c *gin.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
}

func orderCreated(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readRaw(c)
		if err != nil {
			fail(c, http.StatusBadRequest, "failed to read request body")
			return
		}
		res, err := d.Webhooks.HandleOrderCreated(c.Request.Context(), body,
			c.GetHeader(webhook.HeaderHmac), c.GetHeader(webhook.HeaderDomain))
		webhookOutcome(c, d, "orders/create", err, res)
	}
}

func orderCancelled(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readRaw(c)
		if err != nil {
			fail(c, http.StatusBadRequest, "failed to read request body")
			return
		}
		res, err := d.Webhooks.HandleOrderCancelled(c.Request.Context(), body,
			c.GetHeader(webhook.HeaderHmac), c.GetHeader(webhook.HeaderDomain))
		webhookOutcome(c, d, "orders/cancelled", err, res)
	}
}

func appUninstalled(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readRaw(c)
		if err != nil {
			fail(c, http.StatusBadRequest, "failed to read request body")
			return
		}
		err = d.Webhooks.HandleAppUninstalled(c.Request.Context(), body,
			c.GetHeader(webhook.HeaderHmac), c.GetHeader(webhook.HeaderDomain))
		webhookOutcome(c, d, "app/uninstalled", err, nil)
	}
}

func preflightCallback(d Deps, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token != "" && c.GetHeader("X-Preflight-Token") != token {
			fail(c, http.StatusUnauthorized, "invalid preflight token")
			return
		}
		var v preflight.Verdict
		if err := c.ShouldBindJSON(&v); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		u, err := d.Preflight.ReportVerdict(c.Request.Context(), v)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"upload_id": u.ID, "status": u.Status, "preflight_summary": u.PreflightSummary})
	}
}

// shopFromHeader 店面请求通过 X-Shop-Id 标识店铺。
func shopFromHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(middleware.ShopHeader))
}

func createDraft(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upload.DraftRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		if h := shopFromHeader(c); h != "" {
			if req.ShopID != "" && req.ShopID != h {
				fail(c, http.StatusBadRequest, "shop_id does not match "+middleware.ShopHeader)
				return
			}
			req.ShopID = h
		}
		u, err := d.Uploads.CreateDraft(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, u)
	}
}

func storefrontUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		shopID := shopFromHeader(c)
		if shopID == "" {
			fail(c, http.StatusBadRequest, middleware.ShopHeader+" header is required")
			return
		}
		u, err := d.Uploads.Get(c.Request.Context(), shopID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, u)
	}
}

func addItem(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		shopID := shopFromHeader(c)
		if shopID == "" {
			fail(c, http.StatusBadRequest, middleware.ShopHeader+" header is required")
			return
		}
		var req upload.ItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		item, err := d.Uploads.AddItem(c.Request.Context(), shopID, c.Param("id"), req)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, item)
	}
}

func completeUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		shopID := shopFromHeader(c)
		if shopID == "" {
			fail(c, http.StatusBadRequest, middleware.ShopHeader+" header is required")
			return
		}
		// body 可省略：直接使用已有 items
		var req struct {
			Items []store.ItemUpdate `json:"items"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				fail(c, http.StatusBadRequest, err.Error())
				return
			}
		}
		if _, err := d.Uploads.Get(c.Request.Context(), shopID, c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		res, err := d.Preflight.CompleteUpload(c.Request.Context(), c.Param("id"), req.Items)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, res)
	}
}
