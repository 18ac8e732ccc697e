package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrCustomerNotFound           = errors.New("顾客不存在")
	ErrWalletNotFound             = errors.New("钱包不存在")
	ErrCouponNotFound             = errors.New("券不存在")
	ErrMemberCardNotFound         = errors.New("会员卡不存在")
	ErrConsumeRecordNotFound      = errors.New("消费单不存在")
	ErrAppointmentConsumeNotFound = errors.New("预约扣次记录不存在")
	ErrDuplicateKey               = errors.New("唯一键冲突")
)

// conn 事务内用 tx，否则用默认连接
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}

// notFound 把 gorm.ErrRecordNotFound 翻译成仓储层的哨兵错误
func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// duplicate 把唯一键冲突翻译成 ErrDuplicateKey，需要 gorm.Config.TranslateError
func duplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}
