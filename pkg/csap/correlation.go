package csap

import "github.com/google/uuid"

// IDGenerator 关联 ID 生成函数
type IDGenerator func() string

// NewCorrelationID 生成随机 v4 UUID 作为关联 ID
// 仅用于追踪调试，不作为安全令牌
func NewCorrelationID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return NullSession
	}
	return id.String()
}
