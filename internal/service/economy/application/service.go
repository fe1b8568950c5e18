// internal/service/economy/application/service.go
package application

import (
	"time"

	"github.com/google/uuid"
)

// clock 和 id 生成器在测试中可以替换
type clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

func newID() string {
	return uuid.NewString()
}
