package model

import (
	"time"
)

// ============================================================================
// 资产状态机
// ============================================================================
//
// 券和会员卡的状态都由"剩余次数 + 有效期"推导，统一在这里计算，
// 各个 service 只调用这里的函数，不自己拼判断条件。
//
// 券：    active --(次数用完)--> used
//         active --(过期)------> expired
//         active --(作废)------> cancelled
//         used   --(恢复次数)--> active
//
// 会员卡：active   --(次数用完)--> depleted
//         depleted --(恢复次数)--> active
//         active/depleted --(过期)--> expired
//         任意非 cancelled --(作废)--> cancelled
// ============================================================================

// IsExpired 判断到期时间是否已过，nil 表示永久有效
func IsExpired(expireAt *time.Time, now time.Time) bool {
	return expireAt != nil && !now.Before(*expireAt)
}

// ---------------------------------------------------------------------------
// 券
// ---------------------------------------------------------------------------

var couponStatuses = map[string]bool{
	CouponStatusActive:    true,
	CouponStatusUsed:      true,
	CouponStatusExpired:   true,
	CouponStatusCancelled: true,
}

// ValidCouponStatus 是否为合法的券状态
func ValidCouponStatus(status string) bool {
	return couponStatuses[status]
}

// CouponStatusFor 根据剩余次数推导券状态
// cancelled 为终态，不会被次数变化改写；过期优先于次数
func CouponStatusFor(current string, remain int, expireAt *time.Time, now time.Time) string {
	if current == CouponStatusCancelled {
		return CouponStatusCancelled
	}
	if IsExpired(expireAt, now) {
		return CouponStatusExpired
	}
	if remain > 0 {
		return CouponStatusActive
	}
	return CouponStatusUsed
}

// CheckCouponState 校验券的不变量：remain >= 0；active 必须有剩余次数且未过期
func CheckCouponState(status string, remain int, expireAt *time.Time, now time.Time) bool {
	if remain < 0 || !ValidCouponStatus(status) {
		return false
	}
	if status == CouponStatusActive {
		return remain > 0 && !IsExpired(expireAt, now)
	}
	return true
}

// ---------------------------------------------------------------------------
// 会员卡
// ---------------------------------------------------------------------------

var cardStatuses = map[string]bool{
	CardStatusActive:    true,
	CardStatusDepleted:  true,
	CardStatusExpired:   true,
	CardStatusCancelled: true,
}

// ValidCardStatus 是否为合法的会员卡状态
func ValidCardStatus(status string) bool {
	return cardStatuses[status]
}

// CardStatusFor 根据剩余次数推导会员卡状态，expired / cancelled 为终态
func CardStatusFor(current string, remaining int) string {
	if current == CardStatusExpired || current == CardStatusCancelled {
		return current
	}
	if remaining > 0 {
		return CardStatusActive
	}
	return CardStatusDepleted
}

// CheckCardState 校验会员卡不变量：0 <= remaining <= total；active 必须有剩余次数
func CheckCardState(status string, remaining, total int) bool {
	if remaining < 0 || remaining > total || !ValidCardStatus(status) {
		return false
	}
	if status == CardStatusActive {
		return remaining > 0
	}
	return true
}

// ClampSessions 把剩余次数限制在 [0, total]
func ClampSessions(remaining, total int) int {
	if remaining < 0 {
		return 0
	}
	if remaining > total {
		return total
	}
	return remaining
}

// ---------------------------------------------------------------------------
// 预约状态（由外部驱动，这里只校验流转是否合法）
// ---------------------------------------------------------------------------

const (
	AppointmentStatusBooked    = "booked"
	AppointmentStatusCompleted = "completed"
	AppointmentStatusCancelled = "cancelled"
	AppointmentStatusNoShow    = "no_show"
)

var ValidAppointmentTransitions = map[string][]string{
	AppointmentStatusBooked:    {AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusNoShow},
	AppointmentStatusCompleted: {AppointmentStatusBooked, AppointmentStatusCancelled, AppointmentStatusNoShow},
}

// CanAppointmentTransition 预约状态是否允许从 from 流转到 to
func CanAppointmentTransition(from, to string) bool {
	allowed, exists := ValidAppointmentTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
