package logic

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/logger"
	"github.com/blues/agapay/internal/metrics"
	"github.com/blues/agapay/internal/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
)

// AttemptState 审核通过流程的状态
type AttemptState string

const (
	StateIdle                       AttemptState = "idle"
	StateAwaitingLedgerConfirmation AttemptState = "awaiting_ledger_confirmation"
	StateLinking                    AttemptState = "linking"
	StateDone                       AttemptState = "done"
	StateFailed                     AttemptState = "failed"
	StateDiverged                   AttemptState = "diverged"
)

// 合法的状态迁移
var attemptTransitions = map[AttemptState][]AttemptState{
	StateIdle:                       {StateAwaitingLedgerConfirmation},
	StateAwaitingLedgerConfirmation: {StateLinking, StateFailed, StateDiverged},
	StateLinking:                    {StateDone, StateDiverged},
}

// Terminal 是否为终止状态
func (s AttemptState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateDiverged
}

var errNotPropagated = errors.New("campaign not yet visible in registry")

// Attempt 一次审核通过的执行过程
type Attempt struct {
	RecordId        string       `json:"record_id"`
	Creator         string       `json:"creator"`
	Name            string       `json:"name"`
	State           AttemptState `json:"state"`
	TxHash          string       `json:"tx_hash,omitempty"`
	ContractAddress string       `json:"contract_address,omitempty"`
	Error           string       `json:"error,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ApprovalCoordinator 审核流程：先在链上创建合约，再把合约地址写回审核记录
//
// 同一条记录同时只允许一次通过操作。链上创建成功但关联失败时写入对账队列，
// 由管理员通过 Reconcile 处理，不做静默重试。
type ApprovalCoordinator struct {
	registry    Registry
	records     ModerationStore
	divergences DivergenceQueue
	monitor     *metrics.Monitor
	config      config.ModerationConfig
	now         func() time.Time
	newBackOff  func() backoff.BackOff

	mu       sync.Mutex
	inflight map[string]*Attempt
}

// NewApprovalCoordinator 创建审核流程协调器，monitor 可以为空
func NewApprovalCoordinator(registry Registry, records ModerationStore, divergences DivergenceQueue, monitor *metrics.Monitor, cfg config.ModerationConfig) *ApprovalCoordinator {
	c := &ApprovalCoordinator{
		registry:    registry,
		records:     records,
		divergences: divergences,
		monitor:     monitor,
		config:      cfg,
		now:         time.Now,
		inflight:    make(map[string]*Attempt),
	}
	maxInterval, maxElapsed := cfg.LinkMaxInterval, cfg.LinkMaxElapsed
	if maxInterval <= 0 {
		maxInterval = 5 * time.Second
	}
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = maxInterval
		b.MaxElapsedTime = maxElapsed
		b.Reset()
		return b
	}
	return c
}

// Attempts 返回正在执行的审核通过操作
func (c *ApprovalCoordinator) Attempts() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Attempt, 0, len(c.inflight))
	for _, a := range c.inflight {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Approve 通过审核：创建链上合约并关联合约地址
//
// 返回的 Attempt 记录最终状态；关联失败时同时返回 KindLinkageDivergence 错误。
func (c *ApprovalCoordinator) Approve(ctx context.Context, id string) (*Attempt, error) {
	const op = "logic.Approve"

	// 先占用再读取记录，检查基于占用之后的最新状态
	attempt, err := c.begin(op, id)
	if err != nil {
		return nil, err
	}
	defer c.finish(id)

	record, err := c.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != model.ModerationStatusPending {
		return nil, errs.New(errs.KindConflict, op, "record %s is %s", id, record.Status)
	}
	open, err := c.divergences.HasOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, errs.New(errs.KindConflict, op, "record %s has an unresolved divergence, reconcile it first", id)
	}

	goal, ok := new(big.Int).SetString(record.Goal, 10)
	if !ok || goal.Sign() <= 0 {
		return nil, errs.New(errs.KindValidation, op, "record %s has invalid goal %q", id, record.Goal)
	}
	if !common.IsHexAddress(record.Creator) {
		return nil, errs.New(errs.KindValidation, op, "record %s has invalid creator %q", id, record.Creator)
	}
	c.describe(attempt, record)

	// 交易前的注册表快照，只在新出现的条目中匹配
	before, err := c.registry.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.transition(attempt, StateAwaitingLedgerConfirmation); err != nil {
		return nil, err
	}
	creator := common.HexToAddress(record.Creator)
	receipt, err := c.registry.SubmitCreate(ctx, model.CreateCampaignRequest{
		Owner:        creator,
		Name:         record.Name,
		Description:  record.Description,
		Goal:         goal,
		DurationDays: record.DurationDays,
	})
	c.observeTx(err)
	if err != nil && sentUnconfirmed(receipt, err) {
		return c.unconfirmed(ctx, attempt, record, receipt, err)
	}
	if err != nil {
		c.fail(attempt, StateFailed, err)
		if c.monitor != nil {
			c.monitor.Report.ApprovalsFailed.Inc()
		}
		logger.Warn("Approval of %s failed on ledger: %v", id, err)
		return c.snapshot(attempt), err
	}
	c.mu.Lock()
	attempt.TxHash = receipt.TxHash
	c.mu.Unlock()

	// 合约已部署，后续写入不受调用方取消影响
	ctx = context.WithoutCancel(ctx)
	if err := c.transition(attempt, StateLinking); err != nil {
		return nil, err
	}

	address := receipt.CampaignAddress
	if address == (common.Address{}) {
		var reason model.DivergenceReason
		var candidates []common.Address
		address, candidates, reason = c.locate(ctx, before, creator, record.Name)
		if reason != "" {
			return c.diverge(ctx, attempt, record, reason, candidates)
		}
	}
	c.mu.Lock()
	attempt.ContractAddress = strings.ToLower(address.Hex())
	c.mu.Unlock()

	if err := c.records.SetApproved(ctx, id, attempt.ContractAddress, c.now()); err != nil {
		logger.Error("Campaign %s deployed for %s but record update failed: %v", attempt.ContractAddress, id, err)
		c.enqueue(ctx, attempt, record, model.DivergenceStoreWriteFailed, err.Error(), nil)
		c.fail(attempt, StateDiverged, err)
		return c.snapshot(attempt), errs.Wrapf(errs.KindLinkageDivergence, op, err,
			"campaign %s deployed in tx %s but record %s was not updated", attempt.ContractAddress, attempt.TxHash, id)
	}

	if err := c.transition(attempt, StateDone); err != nil {
		return nil, err
	}
	if c.monitor != nil {
		c.monitor.Report.ApprovalsLinked.Inc()
	}
	logger.Info("Record %s approved and linked to %s (tx %s)", id, attempt.ContractAddress, attempt.TxHash)
	return c.snapshot(attempt), nil
}

// sentUnconfirmed 交易已广播但结果未知，合约可能已经或即将上链
func sentUnconfirmed(receipt *model.TxReceipt, err error) bool {
	if errs.Is(err, errs.KindUnconfirmed) {
		return true
	}
	return receipt != nil && receipt.TxHash != "" && !errs.Is(err, errs.KindTransactionReverted)
}

// unconfirmed 交易结果未知时写入对账队列，记录保持待审核且在处理前不能再次通过
func (c *ApprovalCoordinator) unconfirmed(ctx context.Context, attempt *Attempt, record *model.ModerationRecordModel, receipt *model.TxReceipt, cause error) (*Attempt, error) {
	const op = "logic.Approve"

	ctx = context.WithoutCancel(ctx)
	var txHash string
	if receipt != nil {
		txHash = receipt.TxHash
	}
	c.mu.Lock()
	attempt.TxHash = txHash
	c.mu.Unlock()

	c.enqueue(ctx, attempt, record, model.DivergenceUnconfirmedTx, cause.Error(), nil)
	err := errs.Wrapf(errs.KindLinkageDivergence, op, cause,
		"tx %s for record %s was sent but its outcome is unknown, reconcile once it is mined", txHash, record.Id)
	c.fail(attempt, StateDiverged, err)
	logger.Warn("Approval of %s left unconfirmed tx %s: %v", record.Id, txHash, cause)
	return c.snapshot(attempt), err
}

// diverge 处理找不到或找到多个合约的情况
func (c *ApprovalCoordinator) diverge(ctx context.Context, attempt *Attempt, record *model.ModerationRecordModel, reason model.DivergenceReason, candidates []common.Address) (*Attempt, error) {
	const op = "logic.Approve"

	detail := fmt.Sprintf("%d registry entries match owner %s and name %q after tx %s", len(candidates), record.Creator, record.Name, attempt.TxHash)

	if c.config.AllowUnlinkedApproval {
		// 不关联地址直接通过，但仍然进入对账队列
		if err := c.records.SetApproved(ctx, record.Id, "", c.now()); err != nil {
			c.enqueue(ctx, attempt, record, model.DivergenceStoreWriteFailed, err.Error(), candidates)
			c.fail(attempt, StateDiverged, err)
			return c.snapshot(attempt), errs.Wrapf(errs.KindLinkageDivergence, op, err, "record %s was not updated after tx %s", record.Id, attempt.TxHash)
		}
		reason = model.DivergenceUnlinkedApproval
	}

	c.enqueue(ctx, attempt, record, reason, detail, candidates)
	err := errs.New(errs.KindLinkageDivergence, op, "record %s: %s (%s)", record.Id, reason, detail)
	c.fail(attempt, StateDiverged, err)
	logger.Warn("Linkage divergence for %s: %v", record.Id, err)
	return c.snapshot(attempt), err
}

// locate 重新查询注册表，在交易后新出现的条目中按所有者与名称精确匹配
func (c *ApprovalCoordinator) locate(ctx context.Context, before []model.CampaignEntry, owner common.Address, name string) (common.Address, []common.Address, model.DivergenceReason) {
	known := make(map[common.Address]struct{}, len(before))
	for _, e := range before {
		known[e.Address] = struct{}{}
	}

	var candidates []common.Address
	operation := func() error {
		entries, err := c.registry.ListAll(ctx)
		if err != nil {
			return err
		}
		candidates = matchEntries(entries, known, owner, name)
		if len(candidates) == 0 {
			return errNotPropagated
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		logger.Warn("Registry re-query for %s/%q gave up: %v", owner.Hex(), name, err)
	}

	switch len(candidates) {
	case 0:
		return common.Address{}, nil, model.DivergenceNoMatch
	case 1:
		return candidates[0], candidates, ""
	default:
		return common.Address{}, candidates, model.DivergenceAmbiguousMatch
	}
}

// matchEntries 返回所有者与名称都相同且不在 known 中的条目地址
func matchEntries(entries []model.CampaignEntry, known map[common.Address]struct{}, owner common.Address, name string) []common.Address {
	var matches []common.Address
	for _, e := range entries {
		if _, seen := known[e.Address]; seen {
			continue
		}
		if e.Owner == owner && e.Name == name {
			matches = append(matches, e.Address)
		}
	}
	return matches
}

// Reject 驳回审核，不涉及链上操作
func (c *ApprovalCoordinator) Reject(ctx context.Context, id, reason, details string) error {
	const op = "logic.Reject"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errs.New(errs.KindValidation, op, "rejection reason is required")
	}

	c.mu.Lock()
	_, busy := c.inflight[id]
	c.mu.Unlock()
	if busy {
		return errs.New(errs.KindConflict, op, "record %s is being approved", id)
	}

	if err := c.records.SetRejected(ctx, id, reason, strings.TrimSpace(details), c.now()); err != nil {
		return err
	}
	if c.monitor != nil {
		c.monitor.Report.Rejections.Inc()
	}
	logger.Info("Record %s rejected: %s", id, reason)
	return nil
}

// Reconcile 管理员处理对账队列中的一条异常
//
// address 为空时重新在注册表中匹配，必须恰好找到一个尚未被其他记录关联的合约。
func (c *ApprovalCoordinator) Reconcile(ctx context.Context, divergenceId int64, address string) (*model.ModerationRecordModel, error) {
	const op = "logic.Reconcile"

	d, err := c.divergences.Get(ctx, divergenceId)
	if err != nil {
		return nil, err
	}
	attempt, err := c.begin(op, d.RecordId)
	if err != nil {
		return nil, err
	}
	defer c.finish(d.RecordId)

	// 占用之后重新读取，另一次处理可能刚刚完成
	d, err = c.divergences.Get(ctx, divergenceId)
	if err != nil {
		return nil, err
	}
	if d.Resolved {
		return nil, errs.New(errs.KindConflict, op, "divergence %d already resolved", divergenceId)
	}

	record, err := c.records.Get(ctx, d.RecordId)
	if err != nil {
		return nil, err
	}
	if record.Status == model.ModerationStatusRejected {
		return nil, errs.New(errs.KindConflict, op, "record %s was rejected", record.Id)
	}
	c.describe(attempt, record)

	entries, err := c.registry.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	owner := common.HexToAddress(record.Creator)

	var target common.Address
	if address != "" {
		if !common.IsHexAddress(address) {
			return nil, errs.New(errs.KindValidation, op, "invalid contract address %q", address)
		}
		target = common.HexToAddress(address)
		if !containsEntry(entries, target, owner) {
			return nil, errs.New(errs.KindValidation, op, "%s is not a registry entry owned by %s", target.Hex(), record.Creator)
		}
		taken, err := c.records.FindByContracts(ctx, []string{target.Hex()})
		if err != nil {
			return nil, err
		}
		if r, ok := taken[strings.ToLower(target.Hex())]; ok && r.Id != record.Id {
			return nil, errs.New(errs.KindConflict, op, "%s is already linked to record %s", target.Hex(), r.Id)
		}
	} else {
		target, err = c.rematch(ctx, entries, record)
		if err != nil {
			return nil, err
		}
	}
	linked := strings.ToLower(target.Hex())

	switch {
	case record.Status == model.ModerationStatusPending:
		err = c.records.SetApproved(ctx, record.Id, linked, c.now())
	case record.ContractAddress == "":
		err = c.records.Link(ctx, record.Id, linked)
	case !strings.EqualFold(record.ContractAddress, linked):
		err = errs.New(errs.KindConflict, op, "record %s is already linked to %s", record.Id, record.ContractAddress)
	}
	if err != nil {
		return nil, err
	}

	if err := c.divergences.Resolve(ctx, d.Id, linked, c.now()); err != nil {
		return nil, err
	}
	if c.monitor != nil {
		c.monitor.Report.OpenDivergences.Dec()
	}
	logger.Info("Divergence %d reconciled: record %s linked to %s", d.Id, record.Id, linked)
	return c.records.Get(ctx, record.Id)
}

// rematch 在全部注册表条目中匹配，排除已被其他记录关联的合约
func (c *ApprovalCoordinator) rematch(ctx context.Context, entries []model.CampaignEntry, record *model.ModerationRecordModel) (common.Address, error) {
	const op = "logic.Reconcile"

	candidates := matchEntries(entries, nil, common.HexToAddress(record.Creator), record.Name)
	if len(candidates) > 0 {
		keys := make([]string, len(candidates))
		for i, a := range candidates {
			keys[i] = a.Hex()
		}
		taken, err := c.records.FindByContracts(ctx, keys)
		if err != nil {
			return common.Address{}, err
		}
		free := candidates[:0]
		for _, a := range candidates {
			if r, ok := taken[strings.ToLower(a.Hex())]; ok && r.Id != record.Id {
				continue
			}
			free = append(free, a)
		}
		candidates = free
	}

	if len(candidates) != 1 {
		return common.Address{}, errs.New(errs.KindLinkageDivergence, op,
			"%d unlinked registry entries match owner %s and name %q, supply the contract address", len(candidates), record.Creator, record.Name)
	}
	return candidates[0], nil
}

func containsEntry(entries []model.CampaignEntry, address, owner common.Address) bool {
	for _, e := range entries {
		if e.Address == address && e.Owner == owner {
			return true
		}
	}
	return false
}

// begin 登记一次进行中的操作，同一条记录只允许一个
func (c *ApprovalCoordinator) begin(op, id string) (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.inflight[id]; busy {
		return nil, errs.New(errs.KindConflict, op, "record %s already has an attempt in flight", id)
	}
	now := c.now()
	a := &Attempt{
		RecordId:  id,
		State:     StateIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.inflight[id] = a
	return a, nil
}

// describe 用读取到的记录补全进行中的操作
func (c *ApprovalCoordinator) describe(a *Attempt, record *model.ModerationRecordModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a.Creator = record.Creator
	a.Name = record.Name
}

func (c *ApprovalCoordinator) finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// transition 受保护的状态迁移，非法迁移属于程序错误
func (c *ApprovalCoordinator) transition(a *Attempt, to AttemptState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, allowed := range attemptTransitions[a.State] {
		if allowed == to {
			a.State = to
			a.UpdatedAt = c.now()
			return nil
		}
	}
	return errs.New(errs.KindInternal, "logic.transition", "illegal attempt transition %s -> %s for %s", a.State, to, a.RecordId)
}

func (c *ApprovalCoordinator) fail(a *Attempt, to AttemptState, cause error) {
	if err := c.transition(a, to); err != nil {
		logger.Error("%v", err)
	}
	c.mu.Lock()
	a.Error = cause.Error()
	c.mu.Unlock()
	if to == StateDiverged && c.monitor != nil {
		c.monitor.Report.ApprovalsDiverged.Inc()
	}
}

func (c *ApprovalCoordinator) snapshot(a *Attempt) *Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *a
	return &cp
}

// enqueue 写入对账队列，写入失败只能记录日志
func (c *ApprovalCoordinator) enqueue(ctx context.Context, a *Attempt, record *model.ModerationRecordModel, reason model.DivergenceReason, detail string, candidates []common.Address) {
	addrs := make([]string, len(candidates))
	for i, cand := range candidates {
		addrs[i] = strings.ToLower(cand.Hex())
	}
	d := &model.LinkageDivergenceModel{
		RecordId:        record.Id,
		Creator:         record.Creator,
		Name:            record.Name,
		TxHash:          a.TxHash,
		Reason:          reason,
		Detail:          detail,
		Candidates:      strings.Join(addrs, ","),
		ContractAddress: a.ContractAddress,
	}
	if err := c.divergences.Enqueue(ctx, d); err != nil {
		logger.Error("Failed to enqueue %s divergence for %s (tx %s): %v", reason, record.Id, a.TxHash, err)
		return
	}
	if c.monitor != nil {
		c.monitor.Report.OpenDivergences.Inc()
	}
}

func (c *ApprovalCoordinator) observeTx(err error) {
	if c.monitor != nil {
		c.monitor.ObserveTx(err)
	}
}
