package venue

import (
	"errors"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrAssetNotSupported 表示场所不支持该资产。
	ErrAssetNotSupported = errors.New("venue: asset not supported")
	// ErrExecutionRejected 表示场所拒绝了订单执行。
	ErrExecutionRejected = errors.New("venue: execution rejected")
)

// IsRetryable 判断场所错误是否值得重试。
// 非网络类错误 (参数错误、资产不支持等) 重试没有意义。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAssetNotSupported) || errors.Is(err, ErrExecutionRejected) {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var transient *TransientError
	return errors.As(err, &transient)
}

// TransientError 标记一次可重试的临时故障。
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
