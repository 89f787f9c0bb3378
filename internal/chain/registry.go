package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/logger"
	"github.com/blues/agapay/internal/model"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/patrickmn/go-cache"
)

// Backend 注册表客户端依赖的链接口，*ethclient.Client 满足该接口
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.DeployBackend
}

const allEntriesKey = "entries:all"

const defaultConfirmTimeout = 2 * time.Minute

// 字段到合约只读方法的映射
var fieldMethods = map[model.FieldName]string{
	model.FieldState:        "state",
	model.FieldDeadline:     "deadline",
	model.FieldBalance:      "getContractBalance",
	model.FieldGoal:         "goal",
	model.FieldCampaignName: "name",
	model.FieldDescription:  "description",
	model.FieldOwner:        "owner",
}

// campaignTuple getAllCampaigns 返回的元组
type campaignTuple struct {
	CampaignAddress common.Address
	Owner           common.Address
	Name            string
	CreationTime    *big.Int
}

// userCampaignTuple getUserCampaigns 返回的元组，不含创建时间
type userCampaignTuple struct {
	CampaignAddress common.Address
	Owner           common.Address
	Name            string
}

// RegistryClient 众筹注册表（工厂合约）与单个众筹合约的读写客户端
type RegistryClient struct {
	backend        Backend
	factory        *Contract
	campaignABI    abi.ABI
	signer         *bind.TransactOpts
	readTimeout    time.Duration
	confirmTimeout time.Duration

	// 注册表列表按 TTL 缓存，静态字段永久缓存
	cache *cache.Cache
	txMu  sync.Mutex // 串行发送交易，避免 nonce 冲突
}

// NewRegistryClient 创建注册表客户端，signer 为空时只能读取
func NewRegistryClient(backend Backend, factory *Contract, campaignABI abi.ABI, signer *bind.TransactOpts, cfg config.ChainConfig) *RegistryClient {
	ttl := cfg.EntryCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RegistryClient{
		backend:        backend,
		factory:        factory,
		campaignABI:    campaignABI,
		signer:         signer,
		readTimeout:    cfg.ReadTimeout,
		confirmTimeout: cfg.ConfirmTimeout,
		cache:          cache.New(ttl, 2*ttl),
	}
}

// Signer 返回签名地址，只读客户端返回零地址
func (r *RegistryClient) Signer() common.Address {
	if r.signer == nil {
		return common.Address{}
	}
	return r.signer.From
}

// Factory 返回工厂合约
func (r *RegistryClient) Factory() *Contract {
	return r.factory
}

// ListAll 按注册表顺序返回全部众筹，每次都读取最新数据
func (r *RegistryClient) ListAll(ctx context.Context) ([]model.CampaignEntry, error) {
	const op = "chain.ListAll"

	ctx, cancel := r.withReadTimeout(ctx)
	defer cancel()

	out, err := r.factory.Call(ctx, "getAllCampaigns")
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientRead, op, err)
	}

	tuples := *abi.ConvertType(out[0], new([]campaignTuple)).(*[]campaignTuple)
	entries := make([]model.CampaignEntry, 0, len(tuples))
	for _, t := range tuples {
		entry := model.CampaignEntry{
			Address: t.CampaignAddress,
			Owner:   t.Owner,
			Name:    t.Name,
		}
		if t.CreationTime != nil {
			entry.CreationTime = t.CreationTime.Int64()
		}
		entries = append(entries, entry)
	}

	r.cache.SetDefault(allEntriesKey, entries)
	return entries, nil
}

// ListByOwner 返回指定所有者的众筹
//
// getUserCampaigns 不返回创建时间，从注册表列表中补全；列表读取失败时创建时间为 0。
func (r *RegistryClient) ListByOwner(ctx context.Context, owner common.Address) ([]model.CampaignEntry, error) {
	const op = "chain.ListByOwner"

	readCtx, cancel := r.withReadTimeout(ctx)
	defer cancel()

	out, err := r.factory.Call(readCtx, "getUserCampaigns", owner)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransientRead, op, err)
	}
	tuples := *abi.ConvertType(out[0], new([]userCampaignTuple)).(*[]userCampaignTuple)

	creationTimes := make(map[common.Address]int64)
	all, err := r.cachedEntries(ctx)
	if err != nil {
		logger.Warn("Failed to load creation times for owner %s: %v", owner.Hex(), err)
	}
	for _, e := range all {
		creationTimes[e.Address] = e.CreationTime
	}

	entries := make([]model.CampaignEntry, 0, len(tuples))
	for _, t := range tuples {
		entries = append(entries, model.CampaignEntry{
			Address:      t.CampaignAddress,
			Owner:        t.Owner,
			Name:         t.Name,
			CreationTime: creationTimes[t.CampaignAddress],
		})
	}
	return entries, nil
}

// cachedEntries 优先返回缓存的注册表列表
func (r *RegistryClient) cachedEntries(ctx context.Context) ([]model.CampaignEntry, error) {
	if v, ok := r.cache.Get(allEntriesKey); ok {
		return v.([]model.CampaignEntry), nil
	}
	return r.ListAll(ctx)
}

// ReadField 读取单个众筹的一个字段
//
// 可变字段每次都从链上读取；静态字段读取成功后永久缓存。
func (r *RegistryClient) ReadField(ctx context.Context, address common.Address, field model.FieldName) (model.FieldValue, error) {
	const op = "chain.ReadField"

	method, ok := fieldMethods[field]
	if !ok {
		return model.FieldValue{}, errs.New(errs.KindValidation, op, "unknown field %q", field)
	}

	key := "field:" + address.Hex() + ":" + string(field)
	if field.IsStatic() {
		if v, found := r.cache.Get(key); found {
			return v.(model.FieldValue), nil
		}
	}

	ctx, cancel := r.withReadTimeout(ctx)
	defer cancel()

	out, err := r.campaign(address).Call(ctx, method)
	if err != nil {
		return model.FieldValue{}, errs.Wrapf(errs.KindTransientRead, op, err, "read %s of %s", field, address.Hex())
	}

	value, ok := decodeField(field, out[0])
	if !ok {
		return model.FieldValue{}, errs.New(errs.KindTransientRead, op, "unexpected %T for %s of %s", out[0], field, address.Hex())
	}

	if field.IsStatic() {
		r.cache.Set(key, value, cache.NoExpiration)
	}
	return value, nil
}

// decodeField 将合约返回值转换为字段值
func decodeField(field model.FieldName, raw interface{}) (model.FieldValue, bool) {
	switch field {
	case model.FieldState:
		v, ok := raw.(uint8)
		return model.StateValue(model.LedgerState(v)), ok
	case model.FieldDeadline:
		v, ok := raw.(*big.Int)
		if !ok || v == nil {
			return model.FieldValue{}, false
		}
		return model.DeadlineValue(time.Unix(v.Int64(), 0)), true
	case model.FieldBalance, model.FieldGoal:
		v, ok := raw.(*big.Int)
		if !ok || v == nil {
			return model.FieldValue{}, false
		}
		return model.FieldValue{Field: field, Value: v}, true
	case model.FieldCampaignName, model.FieldDescription:
		v, ok := raw.(string)
		return model.TextValue(field, v), ok
	case model.FieldOwner:
		v, ok := raw.(common.Address)
		return model.OwnerValue(v), ok
	default:
		return model.FieldValue{}, false
	}
}

// SubmitCreate 调用工厂合约创建众筹并等待确认
//
// 回执中的 CampaignCreated 事件会被解析为新合约地址。交易已广播但失败或未确认时，
// 错误与只含 TxHash 的回执一起返回。
func (r *RegistryClient) SubmitCreate(ctx context.Context, req model.CreateCampaignRequest) (*model.TxReceipt, error) {
	const op = "chain.SubmitCreate"

	switch {
	case req.Owner == (common.Address{}):
		return nil, errs.New(errs.KindValidation, op, "owner is required")
	case strings.TrimSpace(req.Name) == "":
		return nil, errs.New(errs.KindValidation, op, "name is required")
	case req.Goal == nil || req.Goal.Sign() <= 0:
		return nil, errs.New(errs.KindValidation, op, "goal must be positive")
	case req.DurationDays <= 0:
		return nil, errs.New(errs.KindValidation, op, "duration must be positive")
	}

	receipt, err := r.transact(ctx, op, r.factory, nil, "createCampaign",
		req.Owner, req.Name, req.Description, req.Goal, big.NewInt(req.DurationDays))
	if err != nil {
		// 交易可能已经上链，新合约随时会出现在注册表中
		r.cache.Delete(allEntriesKey)
		return sentOnly(receipt), err
	}

	result := &model.TxReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	result.CampaignAddress = r.createdAddress(receipt, req.Owner)
	// 新合约会出现在注册表中，列表缓存失效
	r.cache.Delete(allEntriesKey)

	logger.Info("Campaign %q created for %s in tx %s (contract: %s)",
		req.Name, req.Owner.Hex(), result.TxHash, result.CampaignAddress.Hex())
	return result, nil
}

// createdAddress 从回执日志中找出属于 owner 的 CampaignCreated 事件
func (r *RegistryClient) createdAddress(receipt *types.Receipt, owner common.Address) common.Address {
	for _, l := range receipt.Logs {
		if l == nil || l.Address != r.factory.GetAddress() {
			continue
		}
		event, err := r.factory.ParseEvent(*l)
		if err != nil || event["eventName"] != "CampaignCreated" {
			continue
		}
		if o, ok := event["owner"].(common.Address); ok && o != owner {
			continue
		}
		if addr, ok := event["campaignAddress"].(common.Address); ok {
			return addr
		}
	}
	return common.Address{}
}

// SubmitDonate 向众筹合约捐款
func (r *RegistryClient) SubmitDonate(ctx context.Context, address common.Address, amount *big.Int) (*model.TxReceipt, error) {
	const op = "chain.SubmitDonate"

	if amount == nil || amount.Sign() <= 0 {
		return nil, errs.New(errs.KindValidation, op, "amount must be positive")
	}
	receipt, err := r.transact(ctx, op, r.campaign(address), amount, "donate")
	if err != nil {
		return sentOnly(receipt), err
	}
	return &model.TxReceipt{TxHash: receipt.TxHash.Hex(), BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

// SubmitWithdraw 提取众筹资金，合约只允许所有者提取
func (r *RegistryClient) SubmitWithdraw(ctx context.Context, address common.Address) (*model.TxReceipt, error) {
	const op = "chain.SubmitWithdraw"

	receipt, err := r.transact(ctx, op, r.campaign(address), nil, "withdraw")
	if err != nil {
		return sentOnly(receipt), err
	}
	return &model.TxReceipt{TxHash: receipt.TxHash.Hex(), BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

// transact 签名发送交易并等待回执
//
// 广播之后调用方取消不再中断等待，只受确认超时限制；超时或查询失败返回 KindUnconfirmed。
// 广播后的任何错误都附带只含 TxHash 的回执。
func (r *RegistryClient) transact(ctx context.Context, op string, contract *Contract, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	if r.signer == nil {
		return nil, errs.New(errs.KindTransaction, op, "no signer configured")
	}

	opts := *r.signer
	opts.Context = ctx
	opts.Value = value

	r.txMu.Lock()
	tx, err := contract.Transact(&opts, method, args...)
	r.txMu.Unlock()
	if err != nil {
		return nil, classifyTxError(op, err)
	}
	logger.Info("Sent %s.%s tx %s", contract.GetName(), method, tx.Hash().Hex())

	timeout := r.confirmTimeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, r.backend, tx)
	if err != nil {
		logger.Warn("Tx %s not confirmed within %s: %v", tx.Hash().Hex(), timeout, err)
		return &types.Receipt{TxHash: tx.Hash()}, errs.Wrapf(errs.KindUnconfirmed, op, err,
			"tx %s was sent but not confirmed", tx.Hash().Hex())
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return &types.Receipt{TxHash: tx.Hash()}, errs.New(errs.KindTransactionReverted, op, "tx %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// sentOnly 把广播后失败的回执转换为只含 TxHash 的结果，未广播时为空
func sentOnly(receipt *types.Receipt) *model.TxReceipt {
	if receipt == nil {
		return nil
	}
	return &model.TxReceipt{TxHash: receipt.TxHash.Hex()}
}

// campaign 创建单个众筹合约实例
func (r *RegistryClient) campaign(address common.Address) *Contract {
	return NewContract("campaign", address, r.campaignABI, r.backend, r.backend)
}

func (r *RegistryClient) withReadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.readTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.readTimeout)
}

// classifyTxError 区分用户取消、合约回滚与其他交易失败
func classifyTxError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled),
		strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"),
		strings.Contains(msg, "request denied"):
		return errs.Wrap(errs.KindUserCancelled, op, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return errs.Wrap(errs.KindTransactionReverted, op, err)
	default:
		return errs.Wrap(errs.KindTransaction, op, err)
	}
}
