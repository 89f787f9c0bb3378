package handler

import (
	"context"

	"github.com/blues/agapay/internal/logic"
	"github.com/blues/agapay/internal/model"
	"github.com/blues/agapay/internal/view"
)

// CampaignService 由 logic.CampaignLogic 实现
type CampaignService interface {
	List(ctx context.Context, q view.Query) (*view.View, error)
	ListByOwner(ctx context.Context, owner string, q view.Query) (*view.View, error)
	Get(ctx context.Context, address string) (*logic.CampaignDetail, error)
	Donate(ctx context.Context, address, amount string) (*model.TxReceipt, error)
	Withdraw(ctx context.Context, address string) (*model.TxReceipt, error)
}

// SubmissionService 由 logic.SubmissionLogic 实现
type SubmissionService interface {
	Submit(ctx context.Context, req logic.SubmissionRequest, uploads []logic.Upload) (*model.ModerationRecordModel, error)
	Get(ctx context.Context, id string) (*model.ModerationRecordModel, error)
	ListMine(ctx context.Context, creator string) ([]model.ModerationRecordModel, error)
	ListPending(ctx context.Context, page int) (*logic.PendingPage, error)
}

// ApprovalService 由 logic.ApprovalCoordinator 实现
type ApprovalService interface {
	Approve(ctx context.Context, id string) (*logic.Attempt, error)
	Reject(ctx context.Context, id, reason, details string) error
	Reconcile(ctx context.Context, divergenceId int64, address string) (*model.ModerationRecordModel, error)
	Attempts() []logic.Attempt
}

// DivergenceLister 由 repository.DivergenceRepository 实现
type DivergenceLister interface {
	ListOpen(ctx context.Context) ([]model.LinkageDivergenceModel, error)
}
