package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/model"
	"gorm.io/gorm"
)

// DivergenceRepository 对账队列存储
type DivergenceRepository struct {
	db *gorm.DB
}

// NewDivergenceRepository 创建对账队列存储
func NewDivergenceRepository(db *gorm.DB) *DivergenceRepository {
	return &DivergenceRepository{db: db}
}

// Enqueue 写入一条待处理的关联异常
func (r *DivergenceRepository) Enqueue(ctx context.Context, d *model.LinkageDivergenceModel) error {
	const op = "repository.EnqueueDivergence"

	d.Id = 0
	d.Resolved = false
	d.ResolvedAt = nil
	d.Creator = strings.ToLower(d.Creator)
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return errs.Wrap(errs.KindUnavailable, op, err)
	}
	return nil
}

// Get 按 Id 获取
func (r *DivergenceRepository) Get(ctx context.Context, id int64) (*model.LinkageDivergenceModel, error) {
	const op = "repository.GetDivergence"

	var d model.LinkageDivergenceModel
	if err := r.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, op, "divergence %d not found", id)
		}
		return nil, errs.Wrap(errs.KindUnavailable, op, err)
	}
	return &d, nil
}

// ListOpen 返回未处理的异常，最早的在前
func (r *DivergenceRepository) ListOpen(ctx context.Context) ([]model.LinkageDivergenceModel, error) {
	const op = "repository.ListOpenDivergences"

	var items []model.LinkageDivergenceModel
	if err := r.db.WithContext(ctx).Where("resolved = ?", false).Order("id ASC").Find(&items).Error; err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, op, err)
	}
	return items, nil
}

// CountOpen 未处理的异常数量
func (r *DivergenceRepository) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.LinkageDivergenceModel{}).Where("resolved = ?", false).Count(&count).Error; err != nil {
		return 0, errs.Wrap(errs.KindUnavailable, "repository.CountOpenDivergences", err)
	}
	return count, nil
}

// HasOpen 指定审核记录是否存在未处理的异常
func (r *DivergenceRepository) HasOpen(ctx context.Context, recordId string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LinkageDivergenceModel{}).
		Where("record_id = ? AND resolved = ?", recordId, false).
		Count(&count).Error
	if err != nil {
		return false, errs.Wrap(errs.KindUnavailable, "repository.HasOpenDivergence", err)
	}
	return count > 0, nil
}

// Resolve 标记异常已处理，contractAddress 为最终关联的合约地址
func (r *DivergenceRepository) Resolve(ctx context.Context, id int64, contractAddress string, at time.Time) error {
	const op = "repository.ResolveDivergence"

	res := r.db.WithContext(ctx).
		Model(&model.LinkageDivergenceModel{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":         true,
			"resolved_at":      at,
			"contract_address": strings.ToLower(contractAddress),
		})
	if res.Error != nil {
		return errs.Wrap(errs.KindUnavailable, op, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return errs.New(errs.KindConflict, op, "divergence %d already resolved", id)
}
