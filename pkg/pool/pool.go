package pool

import (
	"sync"
)

// Буферы больше этого не возвращаются в пул, чтобы один большой полет
// не держал память навсегда
const (
	maxPooledBytes  = 1 << 20
	maxPooledFloats = 1 << 16
)

// ObjectPools пулы временных буферов кодирования и расчетов
type ObjectPools struct {
	byteSlicePool  sync.Pool
	floatSlicePool sync.Pool
}

// Global пулы объектов
var Global = &ObjectPools{
	byteSlicePool: sync.Pool{
		New: func() interface{} {
			b := make([]byte, 0, 256)
			return &b
		},
	},
	floatSlicePool: sync.Pool{
		New: func() interface{} {
			f := make([]float64, 0, 1024)
			return &f
		},
	},
}

// GetBytes получает пустой байтовый буфер из пула
func (p *ObjectPools) GetBytes() []byte {
	return (*p.byteSlicePool.Get().(*[]byte))[:0]
}

// PutBytes возвращает буфер в пул; после вызова буфер использовать нельзя
func (p *ObjectPools) PutBytes(b []byte) {
	if b == nil || cap(b) > maxPooledBytes {
		return
	}
	b = b[:0]
	p.byteSlicePool.Put(&b)
}

// GetFloats получает пустой []float64 из пула
func (p *ObjectPools) GetFloats() []float64 {
	return (*p.floatSlicePool.Get().(*[]float64))[:0]
}

// PutFloats возвращает слайс в пул
func (p *ObjectPools) PutFloats(f []float64) {
	if f == nil || cap(f) > maxPooledFloats {
		return
	}
	f = f[:0]
	p.floatSlicePool.Put(&f)
}
