package service

import (
	"context"
	"testing"

	"assetledger/internal/model"
	"assetledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func complete(appointmentID, customerID, cardID int64, sessions int) *AppointmentTransition {
	return &AppointmentTransition{
		AppointmentID: appointmentID,
		CustomerID:    customerID,
		FromStatus:    model.AppointmentStatusBooked,
		ToStatus:      model.AppointmentStatusCompleted,
		MemberCardID:  cardID,
		Sessions:      sessions,
	}
}

// 十次卡完成预约扣 2 次，取消后恢复到 10 次
func TestAppointmentCompleteThenCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	card := env.openCard(t, c.ID, 10, 0)

	res, err := env.svc.Appointment.OnStatusChange(ctx, complete(501, c.ID, card.ID, 2))
	require.NoError(t, err)
	require.NotNil(t, res.Consume)
	assert.Equal(t, 2, res.Consume.ConsumedSessions)
	assert.Equal(t, 10, res.Consume.SessionsBefore)
	assert.Equal(t, 8, res.Consume.SessionsAfter)

	got := env.card(t, card.ID)
	assert.Equal(t, 8, got.RemainingSessions)
	assert.Equal(t, model.CardStatusActive, got.Status)

	res, err = env.svc.Appointment.OnStatusChange(ctx, &AppointmentTransition{
		AppointmentID: 501,
		CustomerID:    c.ID,
		FromStatus:    model.AppointmentStatusCompleted,
		ToStatus:      model.AppointmentStatusCancelled,
		OperatorID:    5,
		Note:          "顾客取消",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Rollback)
	assert.Equal(t, 2, res.Rollback.RestoredSessions)
	assert.False(t, res.Rollback.AlreadyRolledBack)
	assert.Equal(t, 10, env.card(t, card.ID).RemainingSessions)

	ac, err := env.svc.Appointment.Get(ctx, 501)
	require.NoError(t, err)
	assert.True(t, ac.RolledBack())
	assert.Equal(t, int64(5), ac.RollbackOperatorID)
	assert.Equal(t, 8, ac.RollbackSessionsBefore)
	assert.Equal(t, 10, ac.RollbackSessionsAfter)

	assert.Equal(t, int64(1), env.count(t, &model.MemberCardLog{}, "action_type = ? AND related_order_id = ?", model.CardActionRollback, "APT501"))

	events, err := repository.NewOutboxRepository(env.db).ListByMessageKey(ctx, nil, "APT501")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventAppointmentConsumed, events[0].EventType)
	assert.Equal(t, model.EventAppointmentRollback, events[1].EventType)
}

func TestAppointmentSessionsDefaultToOne(t *testing.T) {
	env := newTestEnv(t)
	c := env.customer(t, 1, "alice")
	card := env.openCard(t, c.ID, 10, 0)

	res, err := env.svc.Appointment.OnStatusChange(context.Background(), complete(7, c.ID, card.ID, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Consume.ConsumedSessions)
	assert.Equal(t, 9, env.card(t, card.ID).RemainingSessions)
}

func TestAppointmentCompleteWithoutCardIsNoop(t *testing.T) {
	env := newTestEnv(t)
	c := env.customer(t, 1, "alice")

	res, err := env.svc.Appointment.OnStatusChange(context.Background(), complete(8, c.ID, 0, 0))
	require.NoError(t, err)
	assert.Nil(t, res.Consume)
	assert.Nil(t, res.Rollback)
	assert.Equal(t, int64(0), env.count(t, &model.AppointmentConsume{}, "1 = 1"))
}

func TestAppointmentDuplicateComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	card := env.openCard(t, c.ID, 10, 0)

	_, err := env.svc.Appointment.Complete(ctx, complete(9, c.ID, card.ID, 1))
	require.NoError(t, err)

	_, err = env.svc.Appointment.Complete(ctx, complete(9, c.ID, card.ID, 1))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 9, env.card(t, card.ID).RemainingSessions)
}

func TestAppointmentCompleteInsufficient(t *testing.T) {
	env := newTestEnv(t)
	c := env.customer(t, 1, "alice")
	card := env.openCard(t, c.ID, 1, 0)

	_, err := env.svc.Appointment.Complete(context.Background(), complete(10, c.ID, card.ID, 2))
	assert.ErrorIs(t, err, ErrInsufficientAsset)
	assert.Equal(t, int64(0), env.count(t, &model.AppointmentConsume{}, "appointment_id = ?", 10))
}

func TestAppointmentRollbackFlags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	card := env.openCard(t, c.ID, 10, 0)

	res, err := env.svc.Appointment.Rollback(ctx, &RollbackRequest{AppointmentID: 404})
	require.NoError(t, err)
	assert.True(t, res.NothingToRollback)

	_, err = env.svc.Appointment.Complete(ctx, complete(11, c.ID, card.ID, 3))
	require.NoError(t, err)

	res, err = env.svc.Appointment.Rollback(ctx, &RollbackRequest{AppointmentID: 11})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RestoredSessions)

	res, err = env.svc.Appointment.Rollback(ctx, &RollbackRequest{AppointmentID: 11})
	require.NoError(t, err)
	assert.True(t, res.AlreadyRolledBack)
	assert.Equal(t, 0, res.RestoredSessions)
	assert.Equal(t, 10, env.card(t, card.ID).RemainingSessions)
}

// 回滚只恢复到总次数为止
func TestAppointmentRollbackClampsToTotal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	card := env.openCard(t, c.ID, 10, 0)

	_, err := env.svc.Appointment.Complete(ctx, complete(12, c.ID, card.ID, 4))
	require.NoError(t, err)
	_, err = env.svc.MemberCard.Adjust(ctx, &AdjustCardRequest{CardID: card.ID, Mode: CardAdjustSetRemaining, Value: 9})
	require.NoError(t, err)

	res, err := env.svc.Appointment.Rollback(ctx, &RollbackRequest{AppointmentID: 12})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RestoredSessions)
	assert.Equal(t, 10, env.card(t, card.ID).RemainingSessions)
}

// 回滚过的预约再次完成不会重新扣次，回滚记录保持不变
func TestAppointmentRecompleteAfterRollbackConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	first := env.openCard(t, c.ID, 10, 0)
	second := env.openCard(t, c.ID, 5, 0)

	_, err := env.svc.Appointment.Complete(ctx, complete(13, c.ID, first.ID, 2))
	require.NoError(t, err)
	_, err = env.svc.Appointment.Rollback(ctx, &RollbackRequest{AppointmentID: 13, OperatorID: 9, Note: "undo"})
	require.NoError(t, err)

	_, err = env.svc.Appointment.Complete(ctx, complete(13, c.ID, second.ID, 1))
	assert.ErrorIs(t, err, ErrConflict)
	_, err = env.svc.Appointment.Complete(ctx, complete(13, c.ID, first.ID, 2))
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := env.svc.Appointment.Get(ctx, 13)
	require.NoError(t, err)
	require.NotNil(t, stored.RolledBackAt)
	assert.Equal(t, int64(9), stored.RollbackOperatorID)
	assert.Equal(t, "undo", stored.RollbackNote)
	assert.Equal(t, 8, stored.RollbackSessionsBefore)
	assert.Equal(t, 10, stored.RollbackSessionsAfter)
	assert.Equal(t, first.ID, stored.MemberCardID)
	assert.Equal(t, int64(1), env.count(t, &model.AppointmentConsume{}, "appointment_id = ?", 13))

	assert.Equal(t, 10, env.card(t, first.ID).RemainingSessions)
	assert.Equal(t, 5, env.card(t, second.ID).RemainingSessions)
	assert.Equal(t, int64(1), env.count(t, &model.MemberCardLog{}, "action_type = ? AND related_order_id = ?", model.CardActionConsume, "APT13"))
}

func TestAppointmentInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	c := env.customer(t, 1, "alice")

	_, err := env.svc.Appointment.OnStatusChange(context.Background(), &AppointmentTransition{
		AppointmentID: 14,
		CustomerID:    c.ID,
		FromStatus:    model.AppointmentStatusCancelled,
		ToStatus:      model.AppointmentStatusCompleted,
		MemberCardID:  1,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAdjustAppointmentConsume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.customer(t, 1, "alice")
	card := env.openCard(t, c.ID, 10, 0)

	_, err := env.svc.Appointment.Complete(ctx, complete(15, c.ID, card.ID, 2))
	require.NoError(t, err)

	ac, err := env.svc.Appointment.AdjustAppointmentConsume(ctx, &AdjustAppointmentRequest{AppointmentID: 15, NewSessions: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, ac.ConsumedSessions)
	assert.Equal(t, 10, ac.SessionsBefore)
	assert.Equal(t, 7, ac.SessionsAfter)
	assert.Equal(t, 7, env.card(t, card.ID).RemainingSessions)

	_, err = env.svc.Appointment.AdjustAppointmentConsume(ctx, &AdjustAppointmentRequest{AppointmentID: 15, NewSessions: 1})
	require.NoError(t, err)
	assert.Equal(t, 9, env.card(t, card.ID).RemainingSessions)

	stored, err := env.svc.Appointment.Get(ctx, 15)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ConsumedSessions)
	assert.Equal(t, 10, stored.SessionsBefore)
	assert.Equal(t, 9, stored.SessionsAfter)

	_, err = env.svc.Appointment.AdjustAppointmentConsume(ctx, &AdjustAppointmentRequest{AppointmentID: 15, NewSessions: 0})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svc.Appointment.AdjustAppointmentConsume(ctx, &AdjustAppointmentRequest{AppointmentID: 99, NewSessions: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Appointment.Rollback(ctx, &RollbackRequest{AppointmentID: 15})
	require.NoError(t, err)
	assert.Equal(t, 10, env.card(t, card.ID).RemainingSessions)

	_, err = env.svc.Appointment.AdjustAppointmentConsume(ctx, &AdjustAppointmentRequest{AppointmentID: 15, NewSessions: 2})
	assert.ErrorIs(t, err, ErrConflict)
}
