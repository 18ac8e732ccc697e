package service

import (
	"assetledger/internal/config"

	"gorm.io/gorm"
)

// Services 组装好的全部业务 service，handler 和后台任务共用一份
type Services struct {
	Customer    *CustomerService
	Wallet      *WalletService
	Coupon      *CouponService
	MemberCard  *MemberCardService
	Consume     *ConsumeService
	Appointment *AppointmentService
	Transfer    *TransferService
	Auditor     *Auditor
}

func NewServices(db *gorm.DB, cfg *config.Config, opts Options) *Services {
	wallet := NewWalletService(db, cfg, opts)
	coupon := NewCouponService(db, cfg, opts)
	card := NewMemberCardService(db, cfg, opts, wallet)

	return &Services{
		Customer:    NewCustomerService(db, cfg, opts),
		Wallet:      wallet,
		Coupon:      coupon,
		MemberCard:  card,
		Consume:     NewConsumeService(db, cfg, opts, wallet, coupon, card),
		Appointment: NewAppointmentService(db, cfg, opts, card),
		Transfer:    NewTransferService(db, cfg, opts),
		Auditor:     NewAuditor(db),
	}
}
