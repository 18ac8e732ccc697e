package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeMonotonicAndUnique(t *testing.T) {
	s, err := NewSnowflake(7)
	require.NoError(t, err)

	seen := make(map[int64]struct{}, 10000)
	var last int64
	for i := 0; i < 10000; i++ {
		id := s.Generate()
		assert.Greater(t, id, last)
		last = id
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
}

func TestSnowflakeConcurrent(t *testing.T) {
	s, err := NewSnowflake(3)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[int64]struct{})
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := s.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8000)
}

// 默认生成器的首次调用可能来自多个 goroutine
func TestNextIDConcurrentFirstUse(t *testing.T) {
	const workers, perWorker = 16, 200
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = make(map[int64]struct{}, workers*perWorker)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				ids = append(ids, NextID())
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestNewSnowflakeRejectsBadWorker(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)
	_, err = NewSnowflake(maxWorkerID + 1)
	assert.Error(t, err)
}

func TestCouponCodeChecksum(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := GenerateCouponCode()
		assert.True(t, ValidCouponCode(code), code)
	}

	code := GenerateCouponCode()
	last := code[len(code)-1]
	flipped := byte('0' + (int(last-'0')+1)%10)
	assert.False(t, ValidCouponCode(code[:len(code)-1]+string(flipped)))
	assert.False(t, ValidCouponCode("12a4"))
	assert.False(t, ValidCouponCode("7"))
}

func TestLuhnKnownValue(t *testing.T) {
	// 7992739871 的 Luhn 校验位为 3
	assert.Equal(t, 3, luhnDigit("7992739871"))
	assert.True(t, ValidCouponCode("79927398713"))
}

func TestBusinessNumbersHavePrefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateConsumeNo(), "CS"))
	assert.True(t, strings.HasPrefix(GenerateTransferNo(), "TF"))
	assert.True(t, strings.HasPrefix(GenerateCardNo(), "MC"))
	assert.True(t, strings.HasPrefix(GenerateCustomerNo(), "CU"))
	assert.NotEqual(t, GenerateConsumeNo(), GenerateConsumeNo())
}
