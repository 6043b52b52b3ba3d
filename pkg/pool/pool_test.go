package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	b := Global.GetBytes()
	assert.Empty(t, b)

	b = append(b, "leg list"...)
	Global.PutBytes(b)

	again := Global.GetBytes()
	assert.Empty(t, again, "pooled buffers come back empty")
	Global.PutBytes(again)

	// Слишком большие и nil буферы просто отбрасываются
	Global.PutBytes(make([]byte, 0, maxPooledBytes+1))
	Global.PutBytes(nil)
}

func TestFloats(t *testing.T) {
	f := Global.GetFloats()
	assert.Empty(t, f)
	f = append(f, 1, 2, 3)
	Global.PutFloats(f)

	again := Global.GetFloats()
	assert.Empty(t, again)
	Global.PutFloats(again)
	Global.PutFloats(make([]float64, 0, maxPooledFloats+1))
}
