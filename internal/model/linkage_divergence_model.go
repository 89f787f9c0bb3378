package model

import (
	"time"
)

// DivergenceReason 链上与链下不一致的原因
type DivergenceReason string

const (
	DivergenceNoMatch          DivergenceReason = "no_match"           // 注册表中找不到新合约
	DivergenceAmbiguousMatch   DivergenceReason = "ambiguous_match"    // 找到多个候选合约
	DivergenceStoreWriteFailed DivergenceReason = "store_write_failed" // 合约已部署但审核记录写入失败
	DivergenceUnlinkedApproval DivergenceReason = "unlinked_approval"  // 已标记通过但没有合约地址
	DivergenceUnconfirmedTx    DivergenceReason = "unconfirmed_tx"     // 交易已发送但未确认，合约可能已部署
)

// LinkageDivergenceModel 待人工处理的关联异常（对账队列）
type LinkageDivergenceModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RecordId        string           `json:"record_id" gorm:"not null;index;size:36"`
	Creator         string           `json:"creator" gorm:"size:42"`
	Name            string           `json:"name"`
	TxHash          string           `json:"tx_hash" gorm:"size:66"`
	Reason          DivergenceReason `json:"reason" gorm:"not null"`
	Detail          string           `json:"detail" gorm:"type:text"`
	Candidates      string           `json:"candidates,omitempty" gorm:"type:text"` // 逗号分隔的候选地址
	ContractAddress string           `json:"contract_address,omitempty" gorm:"size:42"`
	Resolved        bool             `json:"resolved" gorm:"default:false;index"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

// TableName 自定义表名
func (LinkageDivergenceModel) TableName() string {
	return "linkage_divergence"
}
