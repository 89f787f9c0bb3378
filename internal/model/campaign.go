package model

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CampaignEntry 注册表中的众筹身份记录，创建后不可变
type CampaignEntry struct {
	Address      common.Address `json:"address"`
	Owner        common.Address `json:"owner"`
	Name         string         `json:"name"`
	CreationTime int64          `json:"creation_time"` // unix 秒
}

// LedgerState 链上合约状态
type LedgerState uint8

const (
	LedgerStateOpen    LedgerState = 0 // 进行中
	LedgerStateGoalMet LedgerState = 1 // 已达成目标
	LedgerStateExpired LedgerState = 2 // 已过期
)

func (s LedgerState) String() string {
	switch s {
	case LedgerStateOpen:
		return "Open"
	case LedgerStateGoalMet:
		return "GoalMet"
	case LedgerStateExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// FieldName 合约字段名
type FieldName string

const (
	FieldState        FieldName = "state"
	FieldDeadline     FieldName = "deadline"
	FieldBalance      FieldName = "balance"
	FieldGoal         FieldName = "goal"
	FieldCampaignName FieldName = "name"
	FieldDescription  FieldName = "description"
	FieldOwner        FieldName = "owner"
)

// StatusFields 决定状态的四个可变字段
var StatusFields = []FieldName{FieldState, FieldDeadline, FieldBalance, FieldGoal}

// IsStatic 静态字段在合约创建后不会变化
func (f FieldName) IsStatic() bool {
	switch f {
	case FieldCampaignName, FieldDescription, FieldOwner:
		return true
	default:
		return false
	}
}

// FieldValue 一次字段读取的结果
//
// Value 的类型由 Field 决定：state 为 LedgerState，deadline 为 time.Time，
// balance/goal 为 *big.Int，name/description 为 string，owner 为 common.Address。
type FieldValue struct {
	Field FieldName
	Value interface{}
}

func StateValue(s LedgerState) FieldValue {
	return FieldValue{Field: FieldState, Value: s}
}

func DeadlineValue(t time.Time) FieldValue {
	return FieldValue{Field: FieldDeadline, Value: t}
}

func BalanceValue(v *big.Int) FieldValue {
	return FieldValue{Field: FieldBalance, Value: v}
}

func GoalValue(v *big.Int) FieldValue {
	return FieldValue{Field: FieldGoal, Value: v}
}

func TextValue(field FieldName, s string) FieldValue {
	return FieldValue{Field: field, Value: s}
}

func OwnerValue(a common.Address) FieldValue {
	return FieldValue{Field: FieldOwner, Value: a}
}

// CampaignFields 单个众筹的链上可变字段，nil 表示尚未读取到
type CampaignFields struct {
	State    *LedgerState
	Deadline *time.Time
	Balance  *big.Int
	Goal     *big.Int
}

// Complete 四个字段是否都已到达
func (f CampaignFields) Complete() bool {
	return f.State != nil && f.Deadline != nil && f.Balance != nil && f.Goal != nil
}

// Missing 返回尚未到达的字段
func (f CampaignFields) Missing() []FieldName {
	var missing []FieldName
	if f.State == nil {
		missing = append(missing, FieldState)
	}
	if f.Deadline == nil {
		missing = append(missing, FieldDeadline)
	}
	if f.Balance == nil {
		missing = append(missing, FieldBalance)
	}
	if f.Goal == nil {
		missing = append(missing, FieldGoal)
	}
	return missing
}

// With 用最新值替换一个字段，返回新副本以及值是否发生变化。
// 非状态字段或类型不匹配的值被忽略。
func (f CampaignFields) With(v FieldValue) (CampaignFields, bool) {
	switch v.Field {
	case FieldState:
		s, ok := v.Value.(LedgerState)
		if !ok || (f.State != nil && *f.State == s) {
			return f, false
		}
		f.State = &s
	case FieldDeadline:
		t, ok := v.Value.(time.Time)
		if !ok || (f.Deadline != nil && f.Deadline.Equal(t)) {
			return f, false
		}
		f.Deadline = &t
	case FieldBalance:
		b, ok := v.Value.(*big.Int)
		if !ok || b == nil || (f.Balance != nil && f.Balance.Cmp(b) == 0) {
			return f, false
		}
		f.Balance = new(big.Int).Set(b)
	case FieldGoal:
		g, ok := v.Value.(*big.Int)
		if !ok || g == nil || (f.Goal != nil && f.Goal.Cmp(g) == 0) {
			return f, false
		}
		f.Goal = new(big.Int).Set(g)
	default:
		return f, false
	}
	return f, true
}

// CampaignStatus 派生的生命周期状态，不持久化
type CampaignStatus string

const (
	CampaignStatusActive     CampaignStatus = "active"
	CampaignStatusSuccessful CampaignStatus = "successful"
	CampaignStatusFailed     CampaignStatus = "failed"
	CampaignStatusUnknown    CampaignStatus = "unknown"
)

// Resolved 状态是否已确定
func (s CampaignStatus) Resolved() bool {
	return s == CampaignStatusActive || s == CampaignStatusSuccessful || s == CampaignStatusFailed
}

// StatusFilter 列表状态过滤
type StatusFilter string

const (
	FilterAll        StatusFilter = "all"
	FilterActive     StatusFilter = "active"
	FilterSuccessful StatusFilter = "successful"
	FilterFailed     StatusFilter = "failed"
)

// ParseStatusFilter 解析过滤条件，不区分大小写
func ParseStatusFilter(s string) (StatusFilter, bool) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(s))) {
	case FilterAll:
		return FilterAll, true
	case FilterActive:
		return FilterActive, true
	case FilterSuccessful:
		return FilterSuccessful, true
	case FilterFailed:
		return FilterFailed, true
	default:
		return "", false
	}
}

// Matches 判断状态是否通过过滤
func (f StatusFilter) Matches(s CampaignStatus) bool {
	if !s.Resolved() {
		return false
	}
	return f == FilterAll || CampaignStatus(f) == s
}

// TxReceipt 交易回执
type TxReceipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	// CampaignAddress 工厂合约发出 CampaignCreated 事件时解析出的新合约地址，否则为零地址
	CampaignAddress common.Address `json:"campaign_address"`
}

// CreateCampaignRequest 创建众筹交易参数
type CreateCampaignRequest struct {
	Owner        common.Address
	Name         string
	Description  string
	Goal         *big.Int
	DurationDays int64
}
