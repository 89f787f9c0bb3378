package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ModerationRepository 审核记录存储
//
// 状态迁移使用带条件的 UPDATE，同一条记录只能从 pending 迁移一次，
// 并发的审核员之间不会互相覆盖。
type ModerationRepository struct {
	db *gorm.DB
}

// NewModerationRepository 创建审核记录存储
func NewModerationRepository(db *gorm.DB) *ModerationRepository {
	return &ModerationRepository{db: db}
}

// Create 以 pending 状态保存新申请，Id 为空时自动生成
func (r *ModerationRepository) Create(ctx context.Context, record *model.ModerationRecordModel) error {
	const op = "repository.CreateModeration"

	if record.Id == "" {
		record.Id = uuid.NewString()
	}
	record.Creator = strings.ToLower(record.Creator)
	record.Status = model.ModerationStatusPending
	record.ContractAddress = ""
	record.RejectedAt = nil
	record.ApprovedAt = nil

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return errs.Wrap(errs.KindUnavailable, op, err)
	}
	return nil
}

// Get 按 Id 获取审核记录
func (r *ModerationRepository) Get(ctx context.Context, id string) (*model.ModerationRecordModel, error) {
	const op = "repository.GetModeration"

	var record model.ModerationRecordModel
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, op, "moderation record %s not found", id)
		}
		return nil, errs.Wrap(errs.KindUnavailable, op, err)
	}
	return &record, nil
}

// ListPending 返回待审核记录，最新的在前
func (r *ModerationRepository) ListPending(ctx context.Context) ([]model.ModerationRecordModel, error) {
	return r.list(ctx, "repository.ListPending", "status = ?", model.ModerationStatusPending)
}

// ListByCreator 返回指定申请人的全部记录，最新的在前
func (r *ModerationRepository) ListByCreator(ctx context.Context, creator string) ([]model.ModerationRecordModel, error) {
	return r.list(ctx, "repository.ListByCreator", "creator = ?", strings.ToLower(creator))
}

// FindByContracts 按合约地址查找已关联的记录，返回以小写地址为键的映射
func (r *ModerationRepository) FindByContracts(ctx context.Context, addresses []string) (map[string]model.ModerationRecordModel, error) {
	result := make(map[string]model.ModerationRecordModel, len(addresses))
	if len(addresses) == 0 {
		return result, nil
	}

	lowered := make([]string, len(addresses))
	for i, a := range addresses {
		lowered[i] = strings.ToLower(a)
	}

	records, err := r.list(ctx, "repository.FindByContracts", "contract_address IN ?", lowered)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		result[rec.ContractAddress] = rec
	}
	return result, nil
}

func (r *ModerationRepository) list(ctx context.Context, op string, query string, args ...interface{}) ([]model.ModerationRecordModel, error) {
	var records []model.ModerationRecordModel
	err := r.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at DESC").
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, op, err)
	}
	return records, nil
}

// SetRejected 驳回待审核记录
func (r *ModerationRepository) SetRejected(ctx context.Context, id, reason, details string, at time.Time) error {
	return r.transition(ctx, "repository.SetRejected", id, "status = ?", []interface{}{model.ModerationStatusPending}, map[string]interface{}{
		"status":            model.ModerationStatusRejected,
		"rejection_reason":  reason,
		"rejection_details": details,
		"rejected_at":       at,
	})
}

// SetApproved 通过待审核记录，contractAddress 可以为空（未关联）
func (r *ModerationRepository) SetApproved(ctx context.Context, id, contractAddress string, at time.Time) error {
	return r.transition(ctx, "repository.SetApproved", id, "status = ?", []interface{}{model.ModerationStatusPending}, map[string]interface{}{
		"status":           model.ModerationStatusApproved,
		"contract_address": strings.ToLower(contractAddress),
		"approved_at":      at,
	})
}

// Link 为已通过但未关联的记录补充合约地址
func (r *ModerationRepository) Link(ctx context.Context, id, contractAddress string) error {
	return r.transition(ctx, "repository.Link", id, "status = ? AND contract_address = ?",
		[]interface{}{model.ModerationStatusApproved, ""},
		map[string]interface{}{"contract_address": strings.ToLower(contractAddress)})
}

// transition 条件更新，未命中时区分记录不存在与状态冲突
func (r *ModerationRepository) transition(ctx context.Context, op, id, cond string, condArgs []interface{}, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&model.ModerationRecordModel{}).
		Where("id = ?", id).
		Where(cond, condArgs...).
		Updates(updates)
	if res.Error != nil {
		return errs.Wrap(errs.KindUnavailable, op, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return errs.New(errs.KindConflict, op, "moderation record %s is %s", id, current.Status)
}
