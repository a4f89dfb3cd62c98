package store

import (
	"context"
	"errors"
	"fmt"

	"print_upload/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateShop 安装应用时创建租户根记录。
func (s *Store) CreateShop(ctx context.Context, shop *model.Shop) error {
	if shop.ID == "" {
		shop.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(shop).Error
}

// ShopByDomain 根据 X-Shop-Domain 查找租户。
func (s *Store) ShopByDomain(ctx context.Context, domain string) (*model.Shop, error) {
	var shop model.Shop
	if err := s.db.WithContext(ctx).Where("domain = ?", domain).First(&shop).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("shop %s: %w", domain, model.ErrTenantNotFound)
		}
		return nil, err
	}
	return &shop, nil
}

func (s *Store) ShopByID(ctx context.Context, id string) (*model.Shop, error) {
	var shop model.Shop
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("shop %s: %w", id, model.ErrTenantNotFound)
		}
		return nil, err
	}
	return &shop, nil
}

// SaveProductConfig 开启/关闭某商品的上传定制（按 (shop_id, product_id) upsert）。
func (s *Store) SaveProductConfig(ctx context.Context, cfg *model.ProductUploadConfig) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "enabled", "updated_at"}),
	}).Create(cfg).Error
}

// UploadEnabledProducts 返回店铺已开启上传的商品配置，key 为 product_id。
// webhook 处理时实时读取；加购与下单之间配置变化的竞态不在这里处理。
func (s *Store) UploadEnabledProducts(ctx context.Context, shopID string) (map[string]model.ProductUploadConfig, error) {
	var list []model.ProductUploadConfig
	if err := s.db.WithContext(ctx).
		Where("shop_id = ? AND enabled = ?", shopID, true).
		Find(&list).Error; err != nil {
		return nil, err
	}
	out := make(map[string]model.ProductUploadConfig, len(list))
	for _, c := range list {
		out[c.ProductID] = c
	}
	return out, nil
}

// DeleteShop 卸载应用：级联删除租户的全部业务数据。
// 这是唯一允许删除历史记录的地方；审计日志保留。
func (s *Store) DeleteShop(ctx context.Context, shopID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		uploadIDs := tx.Model(&model.Upload{}).Select("id").Where("shop_id = ?", shopID)
		if err := tx.Where("upload_id IN (?)", uploadIDs).Delete(&model.UploadItem{}).Error; err != nil {
			return err
		}
		for _, m := range []any{
			&model.OrderLink{}, &model.Upload{}, &model.Commission{},
			&model.FlowTrigger{}, &model.Export{}, &model.ProductUploadConfig{},
		} {
			if err := tx.Where("shop_id = ?", shopID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", shopID).Delete(&model.Shop{}).Error
	})
}
