package router

import (
	"net/http"
	"strconv"

	"print_upload/internal/middleware"
	"print_upload/internal/model"
	rediskey "print_upload/pkg/redis"

	"github.com/gin-gonic/gin"
)

// registerAdmin 商家后台接口，shop_id 一律取自 JWT。
func registerAdmin(g *gin.RouterGroup, d Deps) {
	g.GET("/uploads", listUploads(d))
	g.GET("/uploads/:id", adminUpload(d))
	g.GET("/uploads/:id/jobs", uploadJobs(d))
	g.POST("/uploads/:id/approve", approveUpload(d))
	g.POST("/uploads/:id/reject", rejectUpload(d))
	g.POST("/uploads/:id/unreject", unrejectUpload(d))
	g.POST("/uploads/:id/ship", shipUpload(d))
	g.POST("/uploads/:id/redispatch", redispatchUpload(d))

	g.PUT("/products/:product_id/upload-config", saveProductConfig(d))

	g.GET("/commissions/pending", pendingCommissions(d))
	g.POST("/commissions/mark-paid", markCommissionsPaid(d))

	g.GET("/flow-triggers/failed", failedTriggers(d))
	g.POST("/flow-triggers/:id/requeue", requeueTrigger(d))

	g.POST("/exports", createExport(d))
	g.GET("/exports/:id/download", downloadExport(d))
}

func shopOf(c *gin.Context) string  { return c.GetString(middleware.ShopIDKey) }
func actorOf(c *gin.Context) string { return c.GetString(middleware.ActorKey) }

func listUploads(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil {
			fail(c, http.StatusBadRequest, "limit 无效")
			return
		}
		list, err := d.Uploads.List(c.Request.Context(), shopOf(c), model.UploadStatus(c.Query("status")), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, list)
	}
}

func adminUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := d.Uploads.Get(c.Request.Context(), shopOf(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		trail, err := d.Store.AuditTrail(c.Request.Context(), u.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"upload": u, "audit": trail})
	}
}

// uploadJobs 每个 item 的预检任务在 Redis 中的状态，用于排查卡住的上传。
func uploadJobs(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Redis == nil {
			fail(c, http.StatusServiceUnavailable, "job state store not configured")
			return
		}
		u, err := d.Uploads.Get(c.Request.Context(), shopOf(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]gin.H, 0, len(u.Items))
		for _, it := range u.Items {
			st, found, err := rediskey.GetJobState(c.Request.Context(), d.Redis, u.ID, it.ID)
			if err != nil {
				writeError(c, err)
				return
			}
			out = append(out, gin.H{
				"item_id":          it.ID,
				"preflight_status": it.PreflightStatus,
				"job_found":        found,
				"job":              st,
			})
		}
		ok(c, out)
	}
}

func approveUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := d.Uploads.Approve(c.Request.Context(), shopOf(c), c.Param("id"), actorOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, u)
	}
}

func rejectUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				fail(c, http.StatusBadRequest, err.Error())
				return
			}
		}
		u, err := d.Uploads.Reject(c.Request.Context(), shopOf(c), c.Param("id"), actorOf(c), req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, u)
	}
}

func unrejectUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := d.Uploads.Unreject(c.Request.Context(), shopOf(c), c.Param("id"), actorOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, u)
	}
}

func shipUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := d.Uploads.MarkShipped(c.Request.Context(), shopOf(c), c.Param("id"), actorOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, u)
	}
}

func redispatchUpload(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := d.Uploads.Get(c.Request.Context(), shopOf(c), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		n, err := d.Preflight.Redispatch(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"jobs": n})
	}
}

func saveProductConfig(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Mode    model.UploadMode `json:"mode" binding:"required"`
			Enabled *bool            `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		cfg := &model.ProductUploadConfig{
			ShopID:    shopOf(c),
			ProductID: c.Param("product_id"),
			Mode:      req.Mode,
			Enabled:   enabled,
		}
		if err := d.Store.SaveProductConfig(c.Request.Context(), cfg); err != nil {
			writeError(c, err)
			return
		}
		ok(c, cfg)
	}
}

func pendingCommissions(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Ledger.Pending(c.Request.Context(), shopOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		total, err := d.Ledger.PendingTotal(c.Request.Context(), shopOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"total": total.StringFixed(2), "count": len(list), "items": list})
	}
}

func markCommissionsPaid(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderIDs   []string `json:"order_ids" binding:"required,min=1"`
			PaymentRef string   `json:"payment_ref" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		n, err := d.Ledger.MarkPaid(c.Request.Context(), shopOf(c), req.OrderIDs, req.PaymentRef)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"updated": n})
	}
}

func failedTriggers(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Flow.Failed(c.Request.Context(), shopOf(c))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, list)
	}
}

func requeueTrigger(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := d.Flow.Requeue(c.Request.Context(), shopOf(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, t)
	}
}

func createExport(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UploadIDs []string `json:"upload_ids"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				fail(c, http.StatusBadRequest, err.Error())
				return
			}
		}
		exp, err := d.Exports.Export(c.Request.Context(), shopOf(c), req.UploadIDs)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, exp)
	}
}

func downloadExport(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := d.Exports.Get(c.Request.Context(), shopOf(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if exp.FilePath == "" {
			fail(c, http.StatusConflict, "export "+exp.Status)
			return
		}
		c.FileAttachment(exp.FilePath, exp.ID+".xlsx")
	}
}
