package model

import (
	"time"
)

// ModerationStatus 审核状态
type ModerationStatus string

const (
	ModerationStatusPending  ModerationStatus = "pending"  // 待审核
	ModerationStatusApproved ModerationStatus = "approved" // 已通过并上链
	ModerationStatusRejected ModerationStatus = "rejected" // 已驳回
)

// DocumentKind 申请材料类型
type DocumentKind string

const (
	DocumentCampaignImage       DocumentKind = "campaign_image"       // 众筹封面
	DocumentIDImage             DocumentKind = "id_image"             // 身份证明
	DocumentRequirementImage    DocumentKind = "requirement_image"    // 需求证明
	DocumentBarangayCertificate DocumentKind = "barangay_certificate" // 贫困证明
	DocumentSolicitationPermit  DocumentKind = "solicitation_permit"  // 公开募捐许可
)

// RequiredDocuments 提交申请必须上传的材料
var RequiredDocuments = []DocumentKind{
	DocumentCampaignImage,
	DocumentIDImage,
	DocumentRequirementImage,
	DocumentBarangayCertificate,
	DocumentSolicitationPermit,
}

// Document 已上传的材料
type Document struct {
	Kind DocumentKind `json:"kind"`
	URL  string       `json:"url"`
}

// Agreements 申请人声明
type Agreements struct {
	Authenticity bool `json:"authenticity"`
	Privacy      bool `json:"privacy"`
	Disbursement bool `json:"disbursement"`
}

// All 是否全部同意
func (a Agreements) All() bool {
	return a.Authenticity && a.Privacy && a.Disbursement
}

// RejectionReasons 审核员可选的驳回理由
var RejectionReasons = []string{
	"ID image is blurry or unreadable",
	"Lacks sufficient campaign context",
	"Invalid or suspicious information",
	"Goal amount is unrealistic",
	"Duplicate or spam campaign",
	"Violates platform guidelines",
	"Other",
}

// ModerationRecordModel 链下审核记录
//
// 由申请人以 pending 创建，审核员最多修改一次：rejected 附带理由，
// approved 附带合约地址。记录不会被删除。
type ModerationRecordModel struct {
	Id        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	// 申请信息
	Creator      string `json:"creator" gorm:"not null;index;size:42"`
	FullName     string `json:"full_name"`
	Name         string `json:"name" gorm:"not null"`
	Description  string `json:"description" gorm:"type:text"`
	Age          int    `json:"age"`
	Goal         string `json:"goal" gorm:"not null"` // 十进制整数字符串
	DurationDays int64  `json:"duration_days" gorm:"not null"`
	IsEmergency  bool   `json:"is_emergency" gorm:"default:false"`

	Documents  []Document `json:"documents" gorm:"serializer:json"`
	Agreements Agreements `json:"agreements" gorm:"serializer:json"`

	// 审核结果
	Status           ModerationStatus `json:"status" gorm:"not null;index;default:'pending'"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	RejectionDetails string           `json:"rejection_details,omitempty" gorm:"type:text"`
	RejectedAt       *time.Time       `json:"rejected_at,omitempty"`
	ContractAddress  string           `json:"contract_address,omitempty" gorm:"size:42"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
}

// TableName 自定义表名
func (ModerationRecordModel) TableName() string {
	return "moderation_record"
}

// IsLinked 已通过且已关联链上合约地址
func (m *ModerationRecordModel) IsLinked() bool {
	return m.Status == ModerationStatusApproved && m.ContractAddress != ""
}

// DocumentURL 返回指定类型材料的地址
func (m *ModerationRecordModel) DocumentURL(kind DocumentKind) string {
	for _, d := range m.Documents {
		if d.Kind == kind {
			return d.URL
		}
	}
	return ""
}
