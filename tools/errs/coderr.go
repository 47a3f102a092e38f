package errs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type CodeErrorI interface {
	ECode() int
	EMsg() string
	DDetail() string
	WithDetail(detail string) CodeError
	error
}

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) ECode() int      { return e.Code }
func (e CodeError) EMsg() string    { return e.Msg }
func (e CodeError) DDetail() string { return e.Detail }

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

func (e CodeError) Wrap() error {
	return errors.WithStack(e)
}

// WrapMsg 带上下文键值对包装，kv 必须成对出现
func (e CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if ret.Detail == "" {
			ret.Detail = detail
		} else {
			ret.Detail += ", " + detail
		}
	}
	return errors.WithStack(ret)
}

func (e CodeError) Is(err error) bool {
	var codeErr CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// IsCode 判断 err（含包装层）是否为指定错误码
func IsCode(err error, code int) bool {
	var codeErr CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return codeErr.Code == code
}

func toString(msg string, kv []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kvAt(kv, i+1))
	}
	return b.String()
}

func kvAt(kv []any, i int) any {
	if i < len(kv) {
		return kv[i]
	}
	return "<missing>"
}
