package logic

import (
	"context"
	"io"
	"math/big"
	"strings"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/logger"
	"github.com/blues/agapay/internal/model"
	"github.com/blues/agapay/internal/view"
	"github.com/ethereum/go-ethereum/common"
)

// EmergencyPrefix 紧急众筹名称前缀
const EmergencyPrefix = "(EMERGENCY) "

// SubmissionRequest 众筹申请
type SubmissionRequest struct {
	Creator      string                        `json:"creator"`
	FullName     string                        `json:"full_name"`
	Name         string                        `json:"name"`
	Description  string                        `json:"description"`
	Age          int                           `json:"age"`
	Goal         string                        `json:"goal"`
	DurationDays int64                         `json:"duration_days"`
	IsEmergency  bool                          `json:"is_emergency"`
	Documents    map[model.DocumentKind]string `json:"documents"` // 已上传材料的地址
	Agreements   model.Agreements              `json:"agreements"`
}

// Upload 待上传的材料文件
type Upload struct {
	Kind     model.DocumentKind
	Filename string
	Content  io.Reader
}

// PendingPage 审核列表的一页
type PendingPage struct {
	Items      []model.ModerationRecordModel `json:"items"`
	Page       int                           `json:"page"`
	PageSize   int                           `json:"page_size"`
	Total      int                           `json:"total"`
	TotalPages int                           `json:"total_pages"`
}

// SubmissionLogic 申请提交与查询
type SubmissionLogic struct {
	records ModerationStore
	objects ObjectStore
	config  config.ModerationConfig
	view    config.ViewConfig
}

// NewSubmissionLogic 创建申请业务逻辑，objects 为空时只接受已上传的材料地址
func NewSubmissionLogic(records ModerationStore, objects ObjectStore, moderation config.ModerationConfig, viewCfg config.ViewConfig) *SubmissionLogic {
	return &SubmissionLogic{
		records: records,
		objects: objects,
		config:  moderation,
		view:    viewCfg,
	}
}

// Submit 校验并保存申请
//
// 所有校验在上传与写入之前完成。
func (s *SubmissionLogic) Submit(ctx context.Context, req SubmissionRequest, uploads []Upload) (*model.ModerationRecordModel, error) {
	const op = "logic.Submit"

	if err := s.validate(req, uploads); err != nil {
		return nil, err
	}

	documents := make(map[model.DocumentKind]string, len(model.RequiredDocuments))
	for kind, url := range req.Documents {
		documents[kind] = strings.TrimSpace(url)
	}
	for _, u := range uploads {
		if s.objects == nil {
			return nil, errs.New(errs.KindUnavailable, op, "file uploads are not configured")
		}
		url, err := s.objects.Upload(ctx, u.Filename, u.Content)
		if err != nil {
			return nil, err
		}
		documents[u.Kind] = url
	}

	name := strings.TrimSpace(req.Name)
	if req.IsEmergency && !strings.HasPrefix(name, EmergencyPrefix) {
		name = EmergencyPrefix + name
	}

	record := &model.ModerationRecordModel{
		Creator:      strings.ToLower(req.Creator),
		FullName:     strings.TrimSpace(req.FullName),
		Name:         name,
		Description:  strings.TrimSpace(req.Description),
		Age:          req.Age,
		Goal:         strings.TrimSpace(req.Goal),
		DurationDays: req.DurationDays,
		IsEmergency:  req.IsEmergency,
		Agreements:   req.Agreements,
	}
	for _, kind := range model.RequiredDocuments {
		record.Documents = append(record.Documents, model.Document{Kind: kind, URL: documents[kind]})
	}

	if err := s.records.Create(ctx, record); err != nil {
		return nil, err
	}
	logger.Info("Submission %s created by %s: %q", record.Id, record.Creator, record.Name)
	return record, nil
}

// validate 校验申请内容，返回第一个问题
func (s *SubmissionLogic) validate(req SubmissionRequest, uploads []Upload) error {
	const op = "logic.Submit"

	invalid := func(format string, args ...interface{}) error {
		return errs.New(errs.KindValidation, op, format, args...)
	}

	if !common.IsHexAddress(req.Creator) {
		return invalid("creator must be a wallet address")
	}
	required := []struct{ field, value string }{
		{"full_name", req.FullName},
		{"name", req.Name},
		{"description", req.Description},
		{"goal", req.Goal},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid("%s is required", r.field)
		}
	}

	if req.Age < s.config.MinAge {
		return invalid("applicant must be at least %d years old", s.config.MinAge)
	}
	goal, ok := new(big.Int).SetString(strings.TrimSpace(req.Goal), 10)
	if !ok || goal.Sign() <= 0 {
		return invalid("goal must be a positive integer")
	}
	maxDays := int64(s.config.MaxDurationDays)
	if req.DurationDays < 1 || (maxDays > 0 && req.DurationDays > maxDays) {
		return invalid("duration must be between 1 and %d days", maxDays)
	}

	provided := make(map[model.DocumentKind]bool)
	for kind, url := range req.Documents {
		if strings.TrimSpace(url) != "" {
			provided[kind] = true
		}
	}
	for _, u := range uploads {
		if u.Content == nil || u.Filename == "" {
			return invalid("upload for %s is empty", u.Kind)
		}
		provided[u.Kind] = true
	}
	var missing []string
	for _, kind := range model.RequiredDocuments {
		if !provided[kind] {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		return invalid("missing documents: %s", strings.Join(missing, ", "))
	}

	if !req.Agreements.All() {
		return invalid("all agreements must be accepted")
	}
	return nil
}

// ListMine 返回申请人自己的申请，最新的在前
func (s *SubmissionLogic) ListMine(ctx context.Context, creator string) ([]model.ModerationRecordModel, error) {
	if !common.IsHexAddress(creator) {
		return nil, errs.New(errs.KindValidation, "logic.ListMine", "invalid wallet address %q", creator)
	}
	return s.records.ListByCreator(ctx, creator)
}

// Get 返回单条申请
func (s *SubmissionLogic) Get(ctx context.Context, id string) (*model.ModerationRecordModel, error) {
	return s.records.Get(ctx, id)
}

// ListPending 分页返回待审核申请
func (s *SubmissionLogic) ListPending(ctx context.Context, page int) (*PendingPage, error) {
	records, err := s.records.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	size := s.view.AdminPageSize
	if size <= 0 {
		size = 5
	}
	result := &PendingPage{
		PageSize:   size,
		Total:      len(records),
		TotalPages: view.TotalPages(len(records), size),
	}
	result.Page = view.ClampPage(page, result.TotalPages)

	start := (result.Page - 1) * size
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	if start < end {
		result.Items = records[start:end]
	} else {
		result.Items = []model.ModerationRecordModel{}
	}
	return result, nil
}
