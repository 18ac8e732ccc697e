package idgen

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 业务单号（消费单号、券码、卡号、转赠单号）全部由此生成：
//   1. 全局唯一 - 同一 worker 内单调递增，不同 worker 的 workerID 不同
//   2. 无需"生成-查重-重试"循环，也就不存在重试耗尽的失败分支
//   3. 券码额外带一位 Luhn 校验位，手工录入时可以提前发现输错
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake 创建独立的生成器
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认ID生成器，只有第一次调用生效
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID 生成下一个ID，未初始化时使用 workerID = 1
// 每次都经过 once，保证并发首次调用时读到的是初始化完成的生成器
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	// 时钟回拨时沿用上次时间戳，保证单调
	if now < s.timestamp {
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateConsumeNo 生成消费单号，格式 CS + 日期 + 雪花ID，例如 CS20240115<id>
func GenerateConsumeNo() string {
	return withPrefix("CS")
}

// GenerateTransferNo 生成资产转赠单号
func GenerateTransferNo() string {
	return withPrefix("TF")
}

// GenerateCardNo 生成会员卡号
func GenerateCardNo() string {
	return withPrefix("MC")
}

// GenerateCustomerNo 生成顾客编号
func GenerateCustomerNo() string {
	return withPrefix("CU")
}

// GenerateCouponCode 生成券码：雪花ID十进制 + 1位 Luhn 校验位
func GenerateCouponCode() string {
	body := strconv.FormatInt(NextID(), 10)
	return body + strconv.Itoa(luhnDigit(body))
}

// ValidCouponCode 校验券码的 Luhn 校验位
func ValidCouponCode(code string) bool {
	if len(code) < 2 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	body, check := code[:len(code)-1], int(code[len(code)-1]-'0')
	return luhnDigit(body) == check
}

func withPrefix(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%d", prefix, time.Now().Format("20060102"), id)
}

// luhnDigit 计算数字串的 Luhn 校验位
func luhnDigit(digits string) int {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
