package logic

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// fakeRegistry 内存注册表
type fakeRegistry struct {
	mu      sync.Mutex
	entries []model.CampaignEntry
	fields  map[common.Address]map[model.FieldName]model.FieldValue

	listErr      error
	createErr    error
	sentTx       string // createErr 时随错误返回的交易哈希
	eventAddress common.Address
	afterCreate  []model.CampaignEntry
	started      chan struct{}
	release      chan struct{}

	creates   int
	listCalls int
	donations []*big.Int
}

func newFakeRegistry(entries ...model.CampaignEntry) *fakeRegistry {
	return &fakeRegistry{
		entries: entries,
		fields:  make(map[common.Address]map[model.FieldName]model.FieldValue),
	}
}

func (r *fakeRegistry) setFields(address common.Address, values ...model.FieldValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.fields[address]
	if m == nil {
		m = make(map[model.FieldName]model.FieldValue)
		r.fields[address] = m
	}
	for _, v := range values {
		m[v.Field] = v
	}
}

func (r *fakeRegistry) addEntries(entries ...model.CampaignEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

func (r *fakeRegistry) ListAll(ctx context.Context) ([]model.CampaignEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]model.CampaignEntry(nil), r.entries...), nil
}

func (r *fakeRegistry) ListByOwner(ctx context.Context, owner common.Address) ([]model.CampaignEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.CampaignEntry
	for _, e := range r.entries {
		if e.Owner == owner {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRegistry) ReadField(ctx context.Context, address common.Address, field model.FieldName) (model.FieldValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.fields[address][field]; ok {
		return v, nil
	}
	return model.FieldValue{}, errs.New(errs.KindTransientRead, "fake.ReadField", "%s of %s unavailable", field, address.Hex())
}

func (r *fakeRegistry) SubmitCreate(ctx context.Context, req model.CreateCampaignRequest) (*model.TxReceipt, error) {
	if r.started != nil {
		close(r.started)
		<-r.release
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		if r.sentTx != "" {
			return &model.TxReceipt{TxHash: r.sentTx}, r.createErr
		}
		return nil, r.createErr
	}
	r.entries = append(r.entries, r.afterCreate...)
	return &model.TxReceipt{TxHash: "0xabc", BlockNumber: 42, CampaignAddress: r.eventAddress}, nil
}

func (r *fakeRegistry) SubmitDonate(ctx context.Context, address common.Address, amount *big.Int) (*model.TxReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.donations = append(r.donations, amount)
	if v, ok := r.fields[address][model.FieldBalance]; ok {
		balance := new(big.Int).Add(v.Value.(*big.Int), amount)
		r.fields[address][model.FieldBalance] = model.BalanceValue(balance)
	}
	return &model.TxReceipt{TxHash: "0xdonate", BlockNumber: 43}, nil
}

func (r *fakeRegistry) SubmitWithdraw(ctx context.Context, address common.Address) (*model.TxReceipt, error) {
	return nil, errs.New(errs.KindTransactionReverted, "fake.SubmitWithdraw", "execution reverted: not owner")
}

// memStore 内存审核记录，条件更新语义与数据库实现一致
type memStore struct {
	mu         sync.Mutex
	seq        int
	records    map[string]*model.ModerationRecordModel
	approveErr error
	findErr    error
	onGet      func(id string) // 只在下一次 Get 时调用一次
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*model.ModerationRecordModel)}
}

func (s *memStore) Create(ctx context.Context, record *model.ModerationRecordModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if record.Id == "" {
		record.Id = fmt.Sprintf("rec-%d", s.seq)
	}
	record.Creator = strings.ToLower(record.Creator)
	record.Status = model.ModerationStatusPending
	record.CreatedAt = time.Unix(int64(1_700_000_000+s.seq), 0)
	cp := *record
	s.records[record.Id] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*model.ModerationRecordModel, error) {
	s.mu.Lock()
	hook := s.onGet
	s.onGet = nil
	s.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "mem.Get", "record %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) list(match func(*model.ModerationRecordModel) bool) []model.ModerationRecordModel {
	var out []model.ModerationRecordModel
	for _, r := range s.records {
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) ListPending(ctx context.Context) ([]model.ModerationRecordModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(r *model.ModerationRecordModel) bool { return r.Status == model.ModerationStatusPending }), nil
}

func (s *memStore) ListByCreator(ctx context.Context, creator string) ([]model.ModerationRecordModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(r *model.ModerationRecordModel) bool { return strings.EqualFold(r.Creator, creator) }), nil
}

func (s *memStore) FindByContracts(ctx context.Context, addresses []string) (map[string]model.ModerationRecordModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	out := make(map[string]model.ModerationRecordModel)
	for _, a := range addresses {
		for _, r := range s.records {
			if r.ContractAddress != "" && strings.EqualFold(r.ContractAddress, a) {
				out[strings.ToLower(a)] = *r
			}
		}
	}
	return out, nil
}

func (s *memStore) SetRejected(ctx context.Context, id, reason, details string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return errs.New(errs.KindNotFound, "mem.SetRejected", "record %s not found", id)
	}
	if r.Status != model.ModerationStatusPending {
		return errs.New(errs.KindConflict, "mem.SetRejected", "record %s is %s", id, r.Status)
	}
	r.Status = model.ModerationStatusRejected
	r.RejectionReason, r.RejectionDetails, r.RejectedAt = reason, details, &at
	return nil
}

func (s *memStore) SetApproved(ctx context.Context, id, contractAddress string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approveErr != nil {
		return s.approveErr
	}
	r, ok := s.records[id]
	if !ok {
		return errs.New(errs.KindNotFound, "mem.SetApproved", "record %s not found", id)
	}
	if r.Status != model.ModerationStatusPending {
		return errs.New(errs.KindConflict, "mem.SetApproved", "record %s is %s", id, r.Status)
	}
	r.Status = model.ModerationStatusApproved
	r.ContractAddress, r.ApprovedAt = contractAddress, &at
	return nil
}

func (s *memStore) Link(ctx context.Context, id, contractAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return errs.New(errs.KindNotFound, "mem.Link", "record %s not found", id)
	}
	if r.Status != model.ModerationStatusApproved || r.ContractAddress != "" {
		return errs.New(errs.KindConflict, "mem.Link", "record %s cannot be linked", id)
	}
	r.ContractAddress = contractAddress
	return nil
}

// memQueue 内存对账队列
type memQueue struct {
	mu    sync.Mutex
	items []*model.LinkageDivergenceModel
}

func (q *memQueue) Enqueue(ctx context.Context, d *model.LinkageDivergenceModel) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d.Id = int64(len(q.items) + 1)
	cp := *d
	q.items = append(q.items, &cp)
	return nil
}

func (q *memQueue) Get(ctx context.Context, id int64) (*model.LinkageDivergenceModel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range q.items {
		if d.Id == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, "mem.Get", "divergence %d not found", id)
}

func (q *memQueue) ListOpen(ctx context.Context) ([]model.LinkageDivergenceModel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.LinkageDivergenceModel
	for _, d := range q.items {
		if !d.Resolved {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (q *memQueue) CountOpen(ctx context.Context) (int64, error) {
	open, _ := q.ListOpen(ctx)
	return int64(len(open)), nil
}

func (q *memQueue) HasOpen(ctx context.Context, recordId string) (bool, error) {
	open, _ := q.ListOpen(ctx)
	for _, d := range open {
		if d.RecordId == recordId {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueue) Resolve(ctx context.Context, id int64, contractAddress string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range q.items {
		if d.Id == id {
			if d.Resolved {
				return errs.New(errs.KindConflict, "mem.Resolve", "divergence %d already resolved", id)
			}
			d.Resolved, d.ContractAddress, d.ResolvedAt = true, contractAddress, &at
			return nil
		}
	}
	return errs.New(errs.KindNotFound, "mem.Resolve", "divergence %d not found", id)
}

// fakeObjects 记录上传次数
type fakeObjects struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (o *fakeObjects) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	if _, err := io.ReadAll(content); err != nil {
		return "", err
	}
	o.uploads = append(o.uploads, filename)
	return "https://cdn.example/" + filename, nil
}
