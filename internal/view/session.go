package view

import (
	"sync"

	"github.com/blues/agapay/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// SnapshotSource 提供最新状态快照，由 Tracker 实现
type SnapshotSource interface {
	Snapshot() *Snapshot
}

type memoKey struct {
	generation uint64
	version    uint64
	revision   uint64
	query      Query
}

// Session 调用方的分页状态
//
// 过滤条件或排序开关变化时回到第一页；输入、状态版本与字段修订号都未变化时
// View 返回同一个指针，状态表中的重复写入不会触发重新计算。
type Session struct {
	mu         sync.Mutex
	engine     Engine
	source     SnapshotSource
	entries    []model.CampaignEntry
	metadata   map[common.Address]Metadata
	generation uint64
	query      Query

	last    *View
	lastKey memoKey
}

// NewSession 创建分页会话
func NewSession(source SnapshotSource, pageSize int) *Session {
	return &Session{
		source: source,
		query:  normalize(Query{PageSize: pageSize}),
	}
}

// SetEntries 替换条目列表
func (s *Session) SetEntries(entries []model.CampaignEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]model.CampaignEntry(nil), entries...)
	s.generation++
}

// SetMetadata 替换链下展示信息
func (s *Session) SetMetadata(metadata map[common.Address]Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = metadata
	s.generation++
}

// SetFilter 修改过滤条件，变化时回到第一页
func (s *Session) SetFilter(filter model.StatusFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filter == "" {
		filter = model.FilterAll
	}
	if filter != s.query.Filter {
		s.query.Filter = filter
		s.query.Page = 1
	}
}

// SetEmergencyFirst 修改紧急优先排序，变化时回到第一页
func (s *Session) SetEmergencyFirst(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on != s.query.EmergencyFirst {
		s.query.EmergencyFirst = on
		s.query.Page = 1
	}
}

// SetPage 跳转页码，超出范围的页码在下一次 View 时被修正
func (s *Session) SetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page < 1 {
		page = 1
	}
	s.query.Page = page
}

// Query 返回当前查询条件
func (s *Session) Query() Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// View 返回当前页
func (s *Session) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.source.Snapshot()
	var version, revision uint64
	if snap != nil {
		version, revision = snap.Version, snap.Revision
	}

	key := memoKey{generation: s.generation, version: version, revision: revision, query: s.query}
	if s.last != nil && key == s.lastKey {
		return s.last
	}

	v := s.engine.Compute(Input{
		Entries:  s.entries,
		Snapshot: snap,
		Metadata: s.metadata,
		Query:    s.query,
	})

	// 总数变少时保存修正后的页码
	s.query.Page = v.Page
	key.query = s.query

	s.last = v
	s.lastKey = key
	return v
}
