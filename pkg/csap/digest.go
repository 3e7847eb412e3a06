package csap

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Digest 计算数据的 xxhash 摘要（十六进制），用于调试日志中比对载荷
func Digest(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
