// internal/service/economy/domain/errors.go
package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// 领域错误分类。应用层用 errors.Wrap 附加上下文，调用方用 errors.Is 判断。
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyUsed      = errors.New("already used")
	ErrAlreadySettled   = errors.New("already settled")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
	ErrInternal         = errors.New("internal")

	// ErrInvalidAmount 金额必须为正数
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	// ErrUnknownSession 结算信号对应的支付会话不存在
	ErrUnknownSession = fmt.Errorf("%w: unknown payment session", ErrNotFound)
	// ErrSelfReferral 不能兑换自己创建的推荐码
	ErrSelfReferral = fmt.Errorf("%w: cannot redeem own referral code", ErrPermissionDenied)
)

// Kind 是错误分类的稳定名称，用于 HTTP 映射、指标标签和日志
type Kind string

const (
	KindUnauthenticated  Kind = "UNAUTHENTICATED"
	KindInvalidArgument  Kind = "INVALID_ARGUMENT"
	KindNotFound         Kind = "NOT_FOUND"
	KindAlreadyUsed      Kind = "ALREADY_USED"
	KindAlreadySettled   Kind = "ALREADY_SETTLED"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindConflict         Kind = "CONFLICT"
	KindInternal         Kind = "INTERNAL"
)

var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrNotFound, KindNotFound},
	{ErrAlreadyUsed, KindAlreadyUsed},
	{ErrAlreadySettled, KindAlreadySettled},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrConflict, KindConflict},
}

// KindOf 返回 err 所属的分类。nil 返回空字符串，无法识别的错误一律归为 Internal。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
