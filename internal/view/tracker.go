// Package view 汇总注册表、链上状态与审核记录，生成可过滤、排序、分页的列表。
package view

import (
	"context"
	"time"

	"github.com/blues/agapay/internal/model"
	"github.com/blues/agapay/internal/status"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
)

const (
	inboxSize = 1024
	maxBatch  = 256 // 单次合并处理的最大消息数
)

// Static 创建后不变的众筹信息
type Static struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Owner       common.Address `json:"owner,omitempty"`
}

// Snapshot 某一时刻的状态快照，只读
//
// Version 只在状态或静态信息变化时递增；Revision 在任何可变字段的值变化时递增，
// 余额等展示字段变化但状态不变时只有 Revision 变化。重复写入相同的值两者都不变。
type Snapshot struct {
	Version   uint64
	Revision  uint64
	Requested int
	Resolved  int

	statuses map[common.Address]model.CampaignStatus
	fields   map[common.Address]model.CampaignFields
	static   map[common.Address]Static
}

// Status 返回地址对应的状态，不存在时为 unknown
func (s *Snapshot) Status(address common.Address) model.CampaignStatus {
	if st, ok := s.statuses[address]; ok {
		return st
	}
	return model.CampaignStatusUnknown
}

// Fields 返回地址对应的最新字段
func (s *Snapshot) Fields(address common.Address) model.CampaignFields {
	return s.fields[address]
}

// Static 返回地址对应的静态信息
func (s *Snapshot) Static(address common.Address) Static {
	return s.static[address]
}

type message interface{}

type scopeMsg struct {
	entries []model.CampaignEntry
}

type fieldMsg struct {
	address common.Address
	value   model.FieldValue
}

type reevaluateMsg struct {
	now time.Time
}

type flushMsg struct {
	done chan struct{}
}

// Tracker 状态表的唯一写入者
//
// 所有更新以消息形式进入同一个 FIFO 队列，由单个协程按顺序合并；
// 读取方通过 Snapshot 获得不可变快照，无需加锁。
type Tracker struct {
	inbox   chan message
	changes chan struct{}
	done    chan struct{}
	stopped chan struct{}
	now     func() time.Time

	snapshot *atomic.Pointer[Snapshot]
	applied  *atomic.Uint64 // 已合并的字段更新
	ignored  *atomic.Uint64 // 因不在范围内被丢弃的更新

	// 以下字段只在 run 协程中访问
	scope    map[common.Address]struct{}
	fields   map[common.Address]model.CampaignFields
	static   map[common.Address]Static
	statuses map[common.Address]model.CampaignStatus
	version  uint64
	revision uint64
}

// NewTracker 创建并启动状态追踪器，now 为空时使用 time.Now
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{
		inbox:    make(chan message, inboxSize),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		now:      now,
		snapshot: atomic.NewPointer(&Snapshot{}),
		applied:  atomic.NewUint64(0),
		ignored:  atomic.NewUint64(0),
		scope:    make(map[common.Address]struct{}),
		fields:   make(map[common.Address]model.CampaignFields),
		static:   make(map[common.Address]Static),
		statuses: make(map[common.Address]model.CampaignStatus),
	}
	go t.run()
	return t
}

// SetScope 设置当前关注的众筹，范围外的数据被丢弃，之后到达的旧响应也会被忽略
func (t *Tracker) SetScope(entries []model.CampaignEntry) {
	copied := make([]model.CampaignEntry, len(entries))
	copy(copied, entries)
	t.send(scopeMsg{entries: copied})
}

// Submit 提交一次字段读取结果
func (t *Tracker) Submit(address common.Address, value model.FieldValue) {
	t.send(fieldMsg{address: address, value: value})
}

// Reevaluate 用指定时间重新计算全部状态，用于截止时间到期
func (t *Tracker) Reevaluate(now time.Time) {
	t.send(reevaluateMsg{now: now})
}

// Flush 等待此前提交的消息全部合并
func (t *Tracker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	t.send(flushMsg{done: done})
	select {
	case <-done:
		return nil
	case <-t.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot 返回最新快照
func (t *Tracker) Snapshot() *Snapshot {
	return t.snapshot.Load()
}

// Changes 每次 Version 递增时收到一个通知，多次变化会被合并
func (t *Tracker) Changes() <-chan struct{} {
	return t.changes
}

// Stats 返回已合并与被忽略的更新数量
func (t *Tracker) Stats() (applied, ignored uint64) {
	return t.applied.Load(), t.ignored.Load()
}

// Close 停止追踪器
func (t *Tracker) Close() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	<-t.stopped
}

func (t *Tracker) send(m message) {
	select {
	case t.inbox <- m:
	case <-t.done:
	}
}

func (t *Tracker) run() {
	defer close(t.stopped)
	for {
		select {
		case <-t.done:
			return
		case m := <-t.inbox:
			var flushes []chan struct{}
			dirty, bumped := false, false

			// 合并队列中已到达的消息后只发布一次快照
			for i := 0; ; i++ {
				if f, ok := m.(flushMsg); ok {
					flushes = append(flushes, f.done)
				} else {
					d, b := t.apply(m)
					dirty, bumped = dirty || d, bumped || b
				}
				if i >= maxBatch {
					break
				}
				select {
				case m = <-t.inbox:
					continue
				default:
				}
				break
			}

			if bumped {
				t.version++
			}
			if dirty || bumped {
				t.publish()
			}
			if bumped {
				select {
				case t.changes <- struct{}{}:
				default:
				}
			}
			for _, done := range flushes {
				close(done)
			}
		}
	}
}

// apply 合并一条消息，返回快照是否需要重新发布以及版本是否需要递增
func (t *Tracker) apply(m message) (dirty, bump bool) {
	switch msg := m.(type) {
	case scopeMsg:
		return t.applyScope(msg.entries)
	case fieldMsg:
		return t.applyField(msg.address, msg.value)
	case reevaluateMsg:
		return t.applyReevaluate(msg.now)
	}
	return false, false
}

func (t *Tracker) applyScope(entries []model.CampaignEntry) (bool, bool) {
	next := make(map[common.Address]struct{}, len(entries))
	for _, e := range entries {
		next[e.Address] = struct{}{}
	}

	changed := len(next) != len(t.scope)
	for addr := range t.scope {
		if _, ok := next[addr]; ok {
			continue
		}
		changed = true
		delete(t.fields, addr)
		delete(t.static, addr)
		delete(t.statuses, addr)
	}
	t.scope = next

	// 注册表中的名称和所有者可以直接作为静态信息
	for _, e := range entries {
		s := t.static[e.Address]
		if s.Name == "" && s.Owner == (common.Address{}) {
			s.Name, s.Owner = e.Name, e.Owner
			t.static[e.Address] = s
			changed = true
		}
	}
	return changed, changed
}

func (t *Tracker) applyField(address common.Address, value model.FieldValue) (bool, bool) {
	if _, ok := t.scope[address]; !ok {
		t.ignored.Inc()
		return false, false
	}
	t.applied.Inc()

	if value.Field.IsStatic() {
		return t.applyStatic(address, value)
	}

	fields, changed := t.fields[address].With(value)
	if !changed {
		return false, false
	}
	t.fields[address] = fields
	t.revision++
	return true, t.setStatus(address, status.Resolve(fields, t.now()))
}

func (t *Tracker) applyStatic(address common.Address, value model.FieldValue) (bool, bool) {
	s := t.static[address]
	switch value.Field {
	case model.FieldCampaignName:
		v, _ := value.Value.(string)
		if v == s.Name {
			return false, false
		}
		s.Name = v
	case model.FieldDescription:
		v, _ := value.Value.(string)
		if v == s.Description {
			return false, false
		}
		s.Description = v
	case model.FieldOwner:
		v, _ := value.Value.(common.Address)
		if v == s.Owner {
			return false, false
		}
		s.Owner = v
	}
	t.static[address] = s
	return true, true
}

func (t *Tracker) applyReevaluate(now time.Time) (bool, bool) {
	bump := false
	for addr, fields := range t.fields {
		if t.setStatus(addr, status.Resolve(fields, now)) {
			bump = true
		}
	}
	return bump, bump
}

// setStatus 写入状态，与当前值相同时不算变化
func (t *Tracker) setStatus(address common.Address, st model.CampaignStatus) bool {
	current, ok := t.statuses[address]
	if !ok {
		current = model.CampaignStatusUnknown
	}
	if current == st {
		return false
	}
	t.statuses[address] = st
	return true
}

// publish 复制当前状态生成新的不可变快照
func (t *Tracker) publish() {
	snap := &Snapshot{
		Version:   t.version,
		Revision:  t.revision,
		Requested: len(t.scope),
		statuses:  make(map[common.Address]model.CampaignStatus, len(t.statuses)),
		fields:    make(map[common.Address]model.CampaignFields, len(t.fields)),
		static:    make(map[common.Address]Static, len(t.static)),
	}
	for addr, st := range t.statuses {
		snap.statuses[addr] = st
		if st.Resolved() {
			snap.Resolved++
		}
	}
	for addr, f := range t.fields {
		snap.fields[addr] = f
	}
	for addr, s := range t.static {
		snap.static[addr] = s
	}
	t.snapshot.Store(snap)
}
