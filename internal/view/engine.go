package view

import (
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/blues/agapay/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultPageSize 公开列表默认每页数量
const DefaultPageSize = 9

const emergencyToken = "emergency"

// Query 列表查询条件
type Query struct {
	Filter         model.StatusFilter `json:"filter"`
	EmergencyFirst bool               `json:"emergency_first"`
	Page           int                `json:"page"`
	PageSize       int                `json:"page_size"`
}

// Metadata 链下审核记录中与列表展示相关的信息
type Metadata struct {
	RecordId string `json:"record_id"`
	ImageURL string `json:"image_url"`
}

// Item 列表中的一个众筹
type Item struct {
	model.CampaignEntry
	Status      model.CampaignStatus `json:"status"`
	Description string               `json:"description,omitempty"`
	Emergency   bool                 `json:"emergency"`
	Goal        *big.Int             `json:"goal,omitempty"`
	Balance     *big.Int             `json:"balance,omitempty"`
	Deadline    *time.Time           `json:"deadline,omitempty"`
	RecordId    string               `json:"record_id,omitempty"`
	ImageURL    string               `json:"image_url,omitempty"`
}

// View 一次计算得到的分页结果
type View struct {
	Items          []Item             `json:"items"`
	Filter         model.StatusFilter `json:"filter"`
	EmergencyFirst bool               `json:"emergency_first"`
	Page           int                `json:"page"`
	PageSize       int                `json:"page_size"`
	Total          int                `json:"total"`
	TotalPages     int                `json:"total_pages"`
	PendingCount   int                `json:"pending_count"` // 状态尚未确定的众筹数量
	Resolved       int                `json:"resolved"`
	Requested      int                `json:"requested"`
	Version        uint64             `json:"version"`
	Revision       uint64             `json:"revision"`
}

// Input Compute 的输入
type Input struct {
	Entries  []model.CampaignEntry
	Snapshot *Snapshot
	Metadata map[common.Address]Metadata
	Query    Query
}

// Engine 列表计算，无状态
type Engine struct{}

// Compute 依次排除未确定状态、过滤、排序、分页
//
// 条目列表为空时返回空列表而不是错误。
func (Engine) Compute(in Input) *View {
	snap := in.Snapshot
	if snap == nil {
		snap = &Snapshot{}
	}
	q := normalize(in.Query)

	v := &View{
		Filter:         q.Filter,
		EmergencyFirst: q.EmergencyFirst,
		PageSize:       q.PageSize,
		Requested:      len(in.Entries),
		Version:        snap.Version,
		Revision:       snap.Revision,
	}

	matched := make([]Item, 0, len(in.Entries))
	for _, entry := range in.Entries {
		st := snap.Status(entry.Address)
		if !st.Resolved() {
			v.PendingCount++
			continue
		}
		if !q.Filter.Matches(st) {
			continue
		}
		matched = append(matched, newItem(entry, st, snap, in.Metadata))
	}
	v.Resolved = v.Requested - v.PendingCount

	sort.SliceStable(matched, func(i, j int) bool {
		if q.EmergencyFirst && matched[i].Emergency != matched[j].Emergency {
			return matched[i].Emergency
		}
		return matched[i].CreationTime > matched[j].CreationTime
	})

	v.Total = len(matched)
	v.TotalPages = TotalPages(v.Total, q.PageSize)
	v.Page = ClampPage(q.Page, v.TotalPages)

	start := (v.Page - 1) * q.PageSize
	end := start + q.PageSize
	if start > v.Total {
		start = v.Total
	}
	if end > v.Total {
		end = v.Total
	}
	v.Items = matched[start:end:end]
	return v
}

// ItemFor 按快照生成单个众筹的展示信息，状态可能为 unknown
func ItemFor(entry model.CampaignEntry, snap *Snapshot, meta map[common.Address]Metadata) Item {
	if snap == nil {
		snap = &Snapshot{}
	}
	return newItem(entry, snap.Status(entry.Address), snap, meta)
}

func newItem(entry model.CampaignEntry, st model.CampaignStatus, snap *Snapshot, meta map[common.Address]Metadata) Item {
	static := snap.Static(entry.Address)
	fields := snap.Fields(entry.Address)
	item := Item{
		CampaignEntry: entry,
		Status:        st,
		Description:   static.Description,
		Emergency:     IsEmergency(entry.Name, static.Description),
		Goal:          fields.Goal,
		Balance:       fields.Balance,
		Deadline:      fields.Deadline,
	}
	if m, ok := meta[entry.Address]; ok {
		item.RecordId = m.RecordId
		item.ImageURL = m.ImageURL
	}
	return item
}

// IsEmergency 名称或描述包含 emergency（不区分大小写）
func IsEmergency(name, description string) bool {
	return strings.Contains(strings.ToLower(name), emergencyToken) ||
		strings.Contains(strings.ToLower(description), emergencyToken)
}

// TotalPages 总页数，至少为 1
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// ClampPage 将页码限制在 [1, totalPages]
func ClampPage(page, totalPages int) int {
	if page < 1 {
		return 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}

func normalize(q Query) Query {
	if q.Filter == "" {
		q.Filter = model.FilterAll
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Page < 1 {
		q.Page = 1
	}
	return q
}
