package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// 错误码分段：1xxx 输入校验，2xxx 存储，3xxx 派生/投递
const (
	CodeValidation       = 1001 // 输入非法，写入前拒绝
	CodeConflict         = 2001 // 唯一键冲突，调用方换 id 重试
	CodeTransientStorage = 2002 // 存储层瞬时失败，可重试
	CodeAuditWrite       = 2003 // 审计写入失败，计数结果保留
	CodeDerivation       = 3001 // 单事件派生失败，隔离后继续
)

var (
	ErrValidation       = NewCodeError(CodeValidation, "validation error")
	ErrConflict         = NewCodeError(CodeConflict, "conflict")
	ErrTransientStorage = NewCodeError(CodeTransientStorage, "transient storage error")
	ErrAuditWrite       = NewCodeError(CodeAuditWrite, "audit write failure")
	ErrDerivation       = NewCodeError(CodeDerivation, "derivation failure")
)

func New(msg string, kv ...any) error {
	return errors.WithStack(fmt.Errorf("%s", toString(msg, kv)))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(errors.WithMessage(err, toString(msg, kv)))
}
