// Package webhook 校验并处理商务平台推送的订单 / 卸载事件，驱动订单关联对账。
//
// 平台投递是至少一次、乱序、可能重复的；这里的每个写入都可以安全重放。
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"print_upload/internal/commission"
	"print_upload/internal/model"
	"print_upload/internal/store"

	"github.com/sirupsen/logrus"
)

// DefaultUploadProperty 购物车行上携带 upload ID 的属性名。
const DefaultUploadProperty = "_upload_id"

type Ingestor struct {
	store    *store.Store
	ledger   *commission.Ledger
	logger   *logrus.Logger
	property string
}

func NewIngestor(st *store.Store, ledger *commission.Ledger, logger *logrus.Logger, property string) *Ingestor {
	if property == "" {
		property = DefaultUploadProperty
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ingestor{store: st, ledger: ledger, logger: logger, property: property}
}

// CreatedResult 一次 orders/create 处理的结果。
type CreatedResult struct {
	OrderID    string            `json:"order_id"`
	Linked     []string          `json:"linked"`
	Ghosts     []string          `json:"ghosts"`
	Skipped    int               `json:"skipped"`
	Commission *model.Commission `json:"commission,omitempty"`
}

// Matched 是否有任意 line item 走了关联或幽灵路径。
func (r CreatedResult) Matched() bool { return len(r.Linked)+len(r.Ghosts) > 0 }

type CancelledResult struct {
	OrderID          string   `json:"order_id"`
	Archived         []string `json:"archived"`
	CommissionVoided bool     `json:"commission_voided"`
}

// authenticate 先按域名找租户，再用租户密钥校验签名；body 在此之前不做解析。
func (in *Ingestor) authenticate(ctx context.Context, body []byte, signature, shopDomain string) (*model.Shop, error) {
	if signature == "" || shopDomain == "" {
		return nil, fmt.Errorf("missing %s or %s header: %w", HeaderHmac, HeaderDomain, model.ErrAuthentication)
	}
	shop, err := in.store.ShopByDomain(ctx, shopDomain)
	if err != nil {
		return nil, err
	}
	if !VerifySignature(body, signature, shop.WebhookSecret) {
		return nil, fmt.Errorf("shop %s: %w", shopDomain, model.ErrAuthentication)
	}
	return shop, nil
}

// HandleOrderCreated 对每个 line item：
// 带 upload 引用则关联真实记录；商品开启上传但没有引用则合成幽灵记录。
// 任一 line item 命中即按订单计提佣金。
func (in *Ingestor) HandleOrderCreated(ctx context.Context, rawBody []byte, signature, shopDomain string) (CreatedResult, error) {
	shop, err := in.authenticate(ctx, rawBody, signature, shopDomain)
	if err != nil {
		return CreatedResult{}, err
	}
	order, err := ParseOrder(rawBody)
	if err != nil {
		return CreatedResult{}, err
	}

	orderID := order.ID.String()
	res := CreatedResult{OrderID: orderID}
	log := in.logger.WithFields(logrus.Fields{
		"field":    "WebhookIngestor",
		"shop_id":  shop.ID,
		"order_id": orderID,
	})

	enabled, err := in.store.UploadEnabledProducts(ctx, shop.ID)
	if err != nil {
		return res, err
	}

	for i, li := range order.LineItems {
		lineItemID := li.ID.String()
		if lineItemID == "" {
			// 平台缺省 line item id 时按行序区分，否则同一订单的幽灵记录会合并成一个
			lineItemID = "#" + strconv.Itoa(i)
		}
		cfg, productEnabled := enabled[li.ProductID.String()]
		ghost := store.GhostLine{
			ShopID:        shop.ID,
			OrderID:       orderID,
			LineItemID:    lineItemID,
			ProductID:     li.ProductID.String(),
			VariantID:     li.VariantID.String(),
			Mode:          cfg.Mode,
			CustomerID:    order.CustomerID(),
			CustomerEmail: order.CustomerEmail(),
		}
		liLog := log.WithFields(logrus.Fields{"line_item_id": lineItemID, "product_id": li.ProductID})

		ref := li.Properties.Get(in.property)
		if ref != "" {
			existing, err := in.store.GetUpload(ctx, ref)
			switch {
			case err == nil && existing.ShopID != shop.ID:
				liLog.WithField("upload_id", ref).Warn("cross-tenant upload reference ignored")
				res.Skipped++
				continue
			case err == nil:
				if _, err := in.store.LinkUpload(ctx, shop.ID, orderID, ref, lineItemID); err != nil {
					return res, err
				}
				res.Linked = append(res.Linked, ref)
				liLog.WithField("upload_id", ref).Info("upload linked to order")
				continue
			case !errors.Is(err, model.ErrNotFound):
				return res, err
			}
			// 引用指向不存在的 upload：商品开启上传时按幽灵处理，否则跳过
			if !productEnabled {
				liLog.WithField("upload_id", ref).Warn("unknown upload reference ignored")
				res.Skipped++
				continue
			}
			ghost.Reason = fmt.Sprintf("%s: upload %s not found", store.GhostMessage, ref)
		} else if !productEnabled {
			continue
		}

		g, created, err := in.store.EnsureGhost(ctx, ghost)
		if err != nil {
			return res, err
		}
		res.Ghosts = append(res.Ghosts, g.ID)
		if created {
			liLog.WithField("upload_id", g.ID).Warn("ghost upload synthesized: " + store.GhostMessage)
		}
	}

	if !res.Matched() {
		log.Debug("order has no upload line items")
		return res, nil
	}

	c, err := in.ledger.Accrue(ctx, shop.ID, orderID, order.TotalPrice, order.Currency)
	if err != nil {
		return res, err
	}
	res.Commission = c
	return res, nil
}

// HandleOrderCancelled 归档订单关联的 upload（archived / shipped 不动）。
// 佣金按账本配置的取消策略处理，默认保留。
func (in *Ingestor) HandleOrderCancelled(ctx context.Context, rawBody []byte, signature, shopDomain string) (CancelledResult, error) {
	shop, err := in.authenticate(ctx, rawBody, signature, shopDomain)
	if err != nil {
		return CancelledResult{}, err
	}
	order, err := ParseOrder(rawBody)
	if err != nil {
		return CancelledResult{}, err
	}
	orderID := order.ID.String()
	res := CancelledResult{OrderID: orderID}

	archived, err := in.store.ArchiveForOrder(ctx, shop.ID, orderID)
	res.Archived = archived
	if err != nil {
		return res, err
	}

	voided, err := in.ledger.ApplyCancellation(ctx, shop.ID, orderID)
	if err != nil {
		return res, err
	}
	res.CommissionVoided = voided

	in.logger.WithFields(logrus.Fields{
		"field":             "WebhookIngestor",
		"shop_id":           shop.ID,
		"order_id":          orderID,
		"archived":          len(archived),
		"commission_voided": voided,
	}).Info("order cancelled")
	return res, nil
}

// HandleAppUninstalled 租户下线：级联删除全部业务数据，仅保留审计日志。
func (in *Ingestor) HandleAppUninstalled(ctx context.Context, rawBody []byte, signature, shopDomain string) error {
	shop, err := in.authenticate(ctx, rawBody, signature, shopDomain)
	if err != nil {
		return err
	}
	if err := in.store.DeleteShop(ctx, shop.ID); err != nil {
		return fmt.Errorf("uninstall shop %s: %w", shopDomain, err)
	}
	if err := in.store.AppendAudit(ctx, nil, model.AuditLog{
		ShopID: shop.ID, Action: "app_uninstalled", Actor: "webhook", Detail: shopDomain,
	}); err != nil {
		return err
	}
	in.logger.WithFields(logrus.Fields{
		"field":   "WebhookIngestor",
		"shop_id": shop.ID,
		"domain":  shopDomain,
	}).Warn("shop uninstalled, tenant data deleted")
	return nil
}
