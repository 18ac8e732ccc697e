package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCouponStatusFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name     string
		current  string
		remain   int
		expireAt *time.Time
		want     string
	}{
		{"remaining stays active", CouponStatusActive, 2, &future, CouponStatusActive},
		{"last use marks used", CouponStatusActive, 0, &future, CouponStatusUsed},
		{"used restored to active", CouponStatusUsed, 1, nil, CouponStatusActive},
		{"expired wins over count", CouponStatusActive, 3, &past, CouponStatusExpired},
		{"cancelled is terminal", CouponStatusCancelled, 5, &future, CouponStatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CouponStatusFor(tc.current, tc.remain, tc.expireAt, now))
		})
	}
}

func TestCheckCouponState(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	assert.True(t, CheckCouponState(CouponStatusActive, 1, nil, now))
	assert.False(t, CheckCouponState(CouponStatusActive, 0, nil, now))
	assert.False(t, CheckCouponState(CouponStatusActive, 1, &past, now))
	assert.False(t, CheckCouponState(CouponStatusUsed, -1, nil, now))
	assert.False(t, CheckCouponState("frozen", 1, nil, now))
	assert.True(t, CheckCouponState(CouponStatusCancelled, 3, nil, now))
}

func TestCardStatusFor(t *testing.T) {
	assert.Equal(t, CardStatusActive, CardStatusFor(CardStatusDepleted, 1))
	assert.Equal(t, CardStatusDepleted, CardStatusFor(CardStatusActive, 0))
	assert.Equal(t, CardStatusExpired, CardStatusFor(CardStatusExpired, 4))
	assert.Equal(t, CardStatusCancelled, CardStatusFor(CardStatusCancelled, 4))
}

func TestCheckCardState(t *testing.T) {
	assert.True(t, CheckCardState(CardStatusActive, 10, 10))
	assert.False(t, CheckCardState(CardStatusActive, 11, 10))
	assert.False(t, CheckCardState(CardStatusDepleted, -1, 10))
	assert.False(t, CheckCardState(CardStatusActive, 0, 10))
	assert.True(t, CheckCardState(CardStatusDepleted, 0, 10))
}

func TestClampSessions(t *testing.T) {
	assert.Equal(t, 0, ClampSessions(-3, 10))
	assert.Equal(t, 10, ClampSessions(12, 10))
	assert.Equal(t, 7, ClampSessions(7, 10))
}

func TestAppointmentTransitions(t *testing.T) {
	assert.True(t, CanAppointmentTransition(AppointmentStatusBooked, AppointmentStatusCompleted))
	assert.True(t, CanAppointmentTransition(AppointmentStatusCompleted, AppointmentStatusBooked))
	assert.True(t, CanAppointmentTransition(AppointmentStatusCompleted, AppointmentStatusNoShow))
	assert.False(t, CanAppointmentTransition(AppointmentStatusCancelled, AppointmentStatusCompleted))
	assert.False(t, CanAppointmentTransition(AppointmentStatusBooked, AppointmentStatusBooked))
}

func TestIsExpiredBoundary(t *testing.T) {
	now := time.Now()
	assert.True(t, IsExpired(&now, now))
	assert.False(t, IsExpired(nil, now))
}

func TestEffectiveStatusAndConsumable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	coupon := &Coupon{Status: CouponStatusActive, RemainCount: 1, ExpireAt: &past}
	assert.Equal(t, CouponStatusExpired, coupon.EffectiveStatus(now))
	assert.False(t, coupon.Consumable(now))

	coupon.ExpireAt = &future
	assert.Equal(t, CouponStatusActive, coupon.EffectiveStatus(now))
	assert.True(t, coupon.Consumable(now))

	coupon = &Coupon{Status: CouponStatusCancelled, ExpireAt: &past}
	assert.Equal(t, CouponStatusCancelled, coupon.EffectiveStatus(now))

	card := &MemberCard{Status: CardStatusDepleted, ExpireAt: &past}
	assert.Equal(t, CardStatusExpired, card.EffectiveStatus(now))
	assert.False(t, card.Consumable(now))

	card = &MemberCard{Status: CardStatusActive, RemainingSessions: 2}
	assert.Equal(t, CardStatusActive, card.EffectiveStatus(now))
	assert.True(t, card.Consumable(now))

	card = &MemberCard{Status: CardStatusCancelled, ExpireAt: &past}
	assert.Equal(t, CardStatusCancelled, card.EffectiveStatus(now))
}
