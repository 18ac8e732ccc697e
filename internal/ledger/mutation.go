// Package ledger 提供所有资产账本共用的"加锁-读取-校验-写入-记流水"步骤。
//
// 钱包、券、会员卡的每一次数量变化都走 Apply：
//
//	1. Lock   在当前事务里对目标行加排他锁（SELECT ... FOR UPDATE），锁持有到事务结束
//	2. Mutate 在副本上计算新值，违反不变量时返回错误
//	3. Save   写回新值
//	4. Log    追加且只追加一条流水，记录变更前后的值
//
// 任何一步出错都直接返回，由外层事务整体回滚。
package ledger

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mutation 描述一次账本变更，T 为账本行的模型类型
type Mutation[T any] struct {
	Lock   func(tx *gorm.DB) (*T, error)
	Mutate func(next *T) error
	Save   func(tx *gorm.DB, next *T) error
	Log    func(tx *gorm.DB, before, after *T) error
}

// Apply 执行一次账本变更，返回变更前后的快照
// tx 必须是调用方已经开启的事务
func Apply[T any](tx *gorm.DB, m Mutation[T]) (before T, after T, err error) {
	current, err := m.Lock(tx)
	if err != nil {
		return before, after, err
	}

	before = *current
	after = *current

	if err = m.Mutate(&after); err != nil {
		return before, after, err
	}
	if err = m.Save(tx, &after); err != nil {
		return before, after, err
	}
	if m.Log != nil {
		if err = m.Log(tx, &before, &after); err != nil {
			return before, after, err
		}
	}
	return before, after, nil
}

// ForUpdate 给查询加上 FOR UPDATE 行锁
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
