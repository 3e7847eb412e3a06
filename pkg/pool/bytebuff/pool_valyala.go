// pkg/pool/bytebuff/pool_valyala.go
// 会话发送缓冲池，底层使用 valyala/bytebufferpool
package bytebuff

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// DefaultMaxRetain 超过此容量的缓冲不放回池中 (4MB)
const DefaultMaxRetain = 4 << 20

// ValyalaPool 基于 valyala/bytebufferpool 的缓冲池
// valyala 会根据使用情况自动校准默认容量
type ValyalaPool struct {
	pool      bytebufferpool.Pool
	maxRetain int

	// 统计信息
	gets      atomic.Uint64
	puts      atomic.Uint64
	discarded atomic.Uint64
}

// NewValyalaPool 创建缓冲池
func NewValyalaPool() *ValyalaPool {
	return &ValyalaPool{maxRetain: DefaultMaxRetain}
}

// NewValyalaPoolWithLimit 创建缓冲池，maxRetain <= 0 表示不限制
func NewValyalaPoolWithLimit(maxRetain int) *ValyalaPool {
	return &ValyalaPool{maxRetain: maxRetain}
}

// Get 获取一个空的 ByteBuffer
func (p *ValyalaPool) Get() *bytebufferpool.ByteBuffer {
	p.gets.Add(1)
	return p.pool.Get()
}

// Put 归还 ByteBuffer，过大的缓冲直接丢弃
func (p *ValyalaPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf == nil {
		return
	}
	if p.maxRetain > 0 && cap(buf.B) > p.maxRetain {
		p.discarded.Add(1)
		return
	}
	p.puts.Add(1)
	p.pool.Put(buf)
}

// Stats 返回统计信息
func (p *ValyalaPool) Stats() (gets, puts, discarded uint64) {
	return p.gets.Load(), p.puts.Load(), p.discarded.Load()
}
