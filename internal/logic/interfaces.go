package logic

import (
	"context"
	"io"
	"math/big"
	"time"

	"github.com/blues/agapay/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// Registry 链上注册表，由 chain.RegistryClient 实现
type Registry interface {
	ListAll(ctx context.Context) ([]model.CampaignEntry, error)
	ListByOwner(ctx context.Context, owner common.Address) ([]model.CampaignEntry, error)
	ReadField(ctx context.Context, address common.Address, field model.FieldName) (model.FieldValue, error)
	SubmitCreate(ctx context.Context, req model.CreateCampaignRequest) (*model.TxReceipt, error)
	SubmitDonate(ctx context.Context, address common.Address, amount *big.Int) (*model.TxReceipt, error)
	SubmitWithdraw(ctx context.Context, address common.Address) (*model.TxReceipt, error)
}

// ModerationStore 审核记录存储，由 repository.ModerationRepository 实现
type ModerationStore interface {
	Create(ctx context.Context, record *model.ModerationRecordModel) error
	Get(ctx context.Context, id string) (*model.ModerationRecordModel, error)
	ListPending(ctx context.Context) ([]model.ModerationRecordModel, error)
	ListByCreator(ctx context.Context, creator string) ([]model.ModerationRecordModel, error)
	FindByContracts(ctx context.Context, addresses []string) (map[string]model.ModerationRecordModel, error)
	SetRejected(ctx context.Context, id, reason, details string, at time.Time) error
	SetApproved(ctx context.Context, id, contractAddress string, at time.Time) error
	Link(ctx context.Context, id, contractAddress string) error
}

// DivergenceQueue 对账队列，由 repository.DivergenceRepository 实现
type DivergenceQueue interface {
	Enqueue(ctx context.Context, d *model.LinkageDivergenceModel) error
	Get(ctx context.Context, id int64) (*model.LinkageDivergenceModel, error)
	ListOpen(ctx context.Context) ([]model.LinkageDivergenceModel, error)
	CountOpen(ctx context.Context) (int64, error)
	HasOpen(ctx context.Context, recordId string) (bool, error)
	Resolve(ctx context.Context, id int64, contractAddress string, at time.Time) error
}

// ObjectStore 文件存储，由 objectstore.Uploader 实现
type ObjectStore interface {
	Upload(ctx context.Context, filename string, content io.Reader) (string, error)
}
