// Package errs 定义服务的错误分类。
//
// 每个错误携带一个 Kind，调用方通过 KindOf/Is 判断如何展示：
// 校验失败在任何网络调用之前返回，瞬时读取失败被吸收为 unknown 状态，
// 交易失败与链下关联失败必须以可区分的消息返回给用户或审核员。
package errs

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindInternal            Kind = "internal"
	KindValidation          Kind = "validation_failure"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindTransientRead       Kind = "transient_read_failure"
	KindUserCancelled       Kind = "user_cancelled_transaction"
	KindTransactionReverted Kind = "transaction_reverted"
	KindTransaction         Kind = "transaction_failure"
	KindUnconfirmed         Kind = "transaction_unconfirmed"
	KindLinkageDivergence   Kind = "linkage_divergence"
	KindUnavailable         Kind = "unavailable"
)

// Error 带类别的错误
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建带类别的错误
func New(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 为已有错误附加类别，err 为 nil 时返回 nil
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf 为已有错误附加类别和说明
func Wrapf(kind Kind, op string, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 返回错误链上最外层的类别，未分类返回 KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误是否属于指定类别
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
