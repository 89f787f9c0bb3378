package logic

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/logger"
	"github.com/blues/agapay/internal/metrics"
	"github.com/blues/agapay/internal/model"
	"github.com/blues/agapay/internal/view"
	"github.com/ethereum/go-ethereum/common"
)

// CampaignDetail 单个众筹详情
type CampaignDetail struct {
	view.Item
	State  string                       `json:"state,omitempty"`
	Record *model.ModerationRecordModel `json:"record,omitempty"`
}

// CampaignLogic 众筹列表与链上操作
//
// 注册表条目与审核信息在 Refresh 时整体替换，字段读取结果进入 Tracker，
// 列表总是基于最新快照计算。
type CampaignLogic struct {
	registry Registry
	records  ModerationStore
	tracker  *view.Tracker
	fetcher  *view.Fetcher
	monitor  *metrics.Monitor
	pageSize int
	now      func() time.Time

	refreshMu sync.Mutex

	mu       sync.RWMutex
	loaded   bool
	entries  []model.CampaignEntry
	scope    map[common.Address]struct{}
	metadata map[common.Address]view.Metadata
}

// NewCampaignLogic 创建众筹业务逻辑，monitor 可以为空
func NewCampaignLogic(registry Registry, records ModerationStore, tracker *view.Tracker, fetcher *view.Fetcher, monitor *metrics.Monitor, pageSize int) *CampaignLogic {
	if pageSize <= 0 {
		pageSize = view.DefaultPageSize
	}
	return &CampaignLogic{
		registry: registry,
		records:  records,
		tracker:  tracker,
		fetcher:  fetcher,
		monitor:  monitor,
		pageSize: pageSize,
		now:      time.Now,
		scope:    make(map[common.Address]struct{}),
		metadata: make(map[common.Address]view.Metadata),
	}
}

// Refresh 重新读取注册表与全部众筹字段
func (l *CampaignLogic) Refresh(ctx context.Context) error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	entries, err := l.registry.ListAll(ctx)
	if err != nil {
		l.observeRefresh(0, 0, err)
		return err
	}

	l.tracker.SetScope(entries)
	result := l.fetcher.Fetch(ctx, entries)
	l.tracker.Reevaluate(l.now())
	if err := l.tracker.Flush(ctx); err != nil {
		l.observeRefresh(0, 0, err)
		return errs.Wrap(errs.KindUnavailable, "logic.Refresh", err)
	}

	metadata, err := l.loadMetadata(ctx, entries)
	if err != nil {
		logger.Warn("Failed to load campaign metadata, keeping previous: %v", err)
	}

	scope := make(map[common.Address]struct{}, len(entries))
	for _, e := range entries {
		scope[e.Address] = struct{}{}
	}

	l.mu.Lock()
	l.entries = entries
	l.scope = scope
	if metadata != nil {
		l.metadata = metadata
	}
	l.loaded = true
	l.mu.Unlock()

	snap := l.tracker.Snapshot()
	l.observeRefresh(snap.Requested, snap.Resolved, nil)
	logger.Info("Refreshed %d campaigns: %d resolved, %d field reads failed", len(entries), snap.Resolved, result.Failed)
	return nil
}

// loadMetadata 读取已关联合约的审核记录
func (l *CampaignLogic) loadMetadata(ctx context.Context, entries []model.CampaignEntry) (map[common.Address]view.Metadata, error) {
	if l.records == nil || len(entries) == 0 {
		return map[common.Address]view.Metadata{}, nil
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Address.Hex()
	}
	found, err := l.records.FindByContracts(ctx, keys)
	if err != nil {
		return nil, err
	}
	metadata := make(map[common.Address]view.Metadata, len(found))
	for addr, record := range found {
		metadata[common.HexToAddress(addr)] = view.Metadata{
			RecordId: record.Id,
			ImageURL: record.DocumentURL(model.DocumentCampaignImage),
		}
	}
	return metadata, nil
}

// ensureLoaded 首次访问时刷新
func (l *CampaignLogic) ensureLoaded(ctx context.Context) error {
	l.mu.RLock()
	loaded := l.loaded
	l.mu.RUnlock()
	if loaded {
		return nil
	}
	return l.Refresh(ctx)
}

func (l *CampaignLogic) state() ([]model.CampaignEntry, map[common.Address]view.Metadata) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries, l.metadata
}

// List 公开列表
func (l *CampaignLogic) List(ctx context.Context, q view.Query) (*view.View, error) {
	if err := l.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	entries, metadata := l.state()
	if q.PageSize <= 0 {
		q.PageSize = l.pageSize
	}
	return view.Engine{}.Compute(view.Input{
		Entries:  entries,
		Snapshot: l.tracker.Snapshot(),
		Metadata: metadata,
		Query:    q,
	}), nil
}

// ListByOwner 某个钱包创建的众筹
//
// 条目来自注册表的实时查询，出现未知条目时先刷新。
func (l *CampaignLogic) ListByOwner(ctx context.Context, owner string, q view.Query) (*view.View, error) {
	if !common.IsHexAddress(owner) {
		return nil, errs.New(errs.KindValidation, "logic.ListByOwner", "invalid wallet address %q", owner)
	}
	if err := l.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	entries, err := l.registry.ListByOwner(ctx, common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	if !l.inScope(entries) {
		if err := l.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	_, metadata := l.state()
	if q.PageSize <= 0 {
		q.PageSize = l.pageSize
	}
	return view.Engine{}.Compute(view.Input{
		Entries:  entries,
		Snapshot: l.tracker.Snapshot(),
		Metadata: metadata,
		Query:    q,
	}), nil
}

func (l *CampaignLogic) inScope(entries []model.CampaignEntry) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range entries {
		if _, ok := l.scope[e.Address]; !ok {
			return false
		}
	}
	return true
}

// Get 单个众筹详情，先重新读取该众筹的字段
func (l *CampaignLogic) Get(ctx context.Context, address string) (*CampaignDetail, error) {
	entry, err := l.lookup(ctx, "logic.GetCampaign", address)
	if err != nil {
		return nil, err
	}

	l.fetcher.Fetch(ctx, []model.CampaignEntry{entry})
	l.tracker.Reevaluate(l.now())
	if err := l.tracker.Flush(ctx); err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, "logic.GetCampaign", err)
	}

	_, metadata := l.state()
	snap := l.tracker.Snapshot()
	detail := &CampaignDetail{Item: view.ItemFor(entry, snap, metadata)}
	if st := snap.Fields(entry.Address).State; st != nil {
		detail.State = st.String()
	}
	if detail.RecordId != "" && l.records != nil {
		record, err := l.records.Get(ctx, detail.RecordId)
		if err != nil {
			logger.Warn("Failed to load record %s for %s: %v", detail.RecordId, entry.Address.Hex(), err)
		} else {
			detail.Record = record
		}
	}
	return detail, nil
}

// lookup 在注册表中查找众筹，找不到时刷新一次
func (l *CampaignLogic) lookup(ctx context.Context, op, address string) (model.CampaignEntry, error) {
	if !common.IsHexAddress(address) {
		return model.CampaignEntry{}, errs.New(errs.KindValidation, op, "invalid campaign address %q", address)
	}
	target := common.HexToAddress(address)

	if err := l.ensureLoaded(ctx); err != nil {
		return model.CampaignEntry{}, err
	}
	if entry, ok := l.find(target); ok {
		return entry, nil
	}
	if err := l.Refresh(ctx); err != nil {
		return model.CampaignEntry{}, err
	}
	if entry, ok := l.find(target); ok {
		return entry, nil
	}
	return model.CampaignEntry{}, errs.New(errs.KindNotFound, op, "campaign %s not found in registry", target.Hex())
}

func (l *CampaignLogic) find(address common.Address) (model.CampaignEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.Address == address {
			return e, true
		}
	}
	return model.CampaignEntry{}, false
}

// Donate 向众筹捐款，amount 为最小单位的十进制整数
func (l *CampaignLogic) Donate(ctx context.Context, address, amount string) (*model.TxReceipt, error) {
	const op = "logic.Donate"

	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok || value.Sign() <= 0 {
		return nil, errs.New(errs.KindValidation, op, "amount must be a positive integer")
	}
	entry, err := l.lookup(ctx, op, address)
	if err != nil {
		return nil, err
	}

	receipt, err := l.registry.SubmitDonate(ctx, entry.Address, value)
	l.observeTx(err)
	if err != nil {
		return receipt, err
	}
	logger.Info("Donation of %s to %s confirmed in tx %s", value, entry.Address.Hex(), receipt.TxHash)

	l.refreshAfterTx(ctx, entry)
	return receipt, nil
}

// Withdraw 提取众筹资金
//
// 交易已广播但未确认时返回只含 TxHash 的回执和 KindUnconfirmed 错误，与 Donate 相同。
func (l *CampaignLogic) Withdraw(ctx context.Context, address string) (*model.TxReceipt, error) {
	const op = "logic.Withdraw"

	entry, err := l.lookup(ctx, op, address)
	if err != nil {
		return nil, err
	}

	receipt, err := l.registry.SubmitWithdraw(ctx, entry.Address)
	l.observeTx(err)
	if err != nil {
		return receipt, err
	}
	logger.Info("Withdrawal from %s confirmed in tx %s", entry.Address.Hex(), receipt.TxHash)

	l.refreshAfterTx(ctx, entry)
	return receipt, nil
}

// refreshAfterTx 交易确认后重新读取余额与状态
func (l *CampaignLogic) refreshAfterTx(ctx context.Context, entry model.CampaignEntry) {
	ctx = context.WithoutCancel(ctx)
	l.fetcher.Fetch(ctx, []model.CampaignEntry{entry}, model.FieldBalance, model.FieldState)
	l.tracker.Reevaluate(l.now())
}

func (l *CampaignLogic) observeTx(err error) {
	if l.monitor != nil {
		l.monitor.ObserveTx(err)
	}
}

func (l *CampaignLogic) observeRefresh(requested, resolved int, err error) {
	if l.monitor != nil {
		l.monitor.ObserveRefresh(requested, resolved, err)
	}
}
