package service

import (
	"errors"
	"fmt"

	"assetledger/internal/repository"
)

// ErrorKind 业务错误分类，handler 按分类映射响应码
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindInsufficientAsset ErrorKind = "insufficient_asset"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
)

// BizError 对调用方可见的业务错误
type BizError struct {
	Kind    ErrorKind
	Message string
}

func (e *BizError) Error() string {
	return e.Message
}

// Is 只按 Kind 比较，errors.Is(err, ErrConflict) 对任意冲突错误成立
func (e *BizError) Is(target error) bool {
	t, ok := target.(*BizError)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation        = &BizError{Kind: KindValidation, Message: "参数错误"}
	ErrInsufficientAsset = &BizError{Kind: KindInsufficientAsset, Message: "资产不足"}
	ErrNotFound          = &BizError{Kind: KindNotFound, Message: "记录不存在"}
	ErrConflict          = &BizError{Kind: KindConflict, Message: "状态冲突"}
)

func validationf(format string, args ...interface{}) error {
	return &BizError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func insufficientf(format string, args ...interface{}) error {
	return &BizError{Kind: KindInsufficientAsset, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...interface{}) error {
	return &BizError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...interface{}) error {
	return &BizError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf 取出错误链上的业务分类，非业务错误返回空串
func KindOf(err error) ErrorKind {
	var be *BizError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

var notFoundSentinels = []error{
	repository.ErrCustomerNotFound,
	repository.ErrWalletNotFound,
	repository.ErrCouponNotFound,
	repository.ErrMemberCardNotFound,
	repository.ErrConsumeRecordNotFound,
	repository.ErrAppointmentConsumeNotFound,
}

// translate 把仓储层哨兵错误翻译成 NotFound，其余错误加上下文原样包装
func translate(err error, action string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	for _, sentinel := range notFoundSentinels {
		if errors.Is(err, sentinel) {
			return &BizError{Kind: KindNotFound, Message: sentinel.Error()}
		}
	}
	return fmt.Errorf("%s: %w", action, err)
}
