package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PABLOX_INT", "12")
	t.Setenv("PABLOX_BAD_INT", "-3")
	t.Setenv("PABLOX_HEIGHT", "18446744073709551615")
	t.Setenv("PABLOX_BOOL", "true")
	t.Setenv("PABLOX_DUR", "250ms")
	t.Setenv("PABLOX_LIST", " http://a:50002/, ,http://b:50002 ")

	assert.Equal(t, "fallback", Env("PABLOX_UNSET", "fallback"))
	assert.Equal(t, 12, EnvInt("PABLOX_INT", 1))
	assert.Equal(t, 1, EnvInt("PABLOX_BAD_INT", 1))
	assert.Equal(t, uint64(18446744073709551615), EnvUint64("PABLOX_HEIGHT", 0))
	assert.True(t, EnvBool("PABLOX_BOOL", false))
	assert.False(t, EnvBool("PABLOX_UNSET", false))
	assert.Equal(t, 250*time.Millisecond, EnvDuration("PABLOX_DUR", time.Second))
	assert.Equal(t, []string{"http://a:50002/", "http://b:50002"}, EnvList("PABLOX_LIST", nil))
	assert.Equal(t, []string{"x"}, EnvList("PABLOX_UNSET", []string{"x"}))
	assert.Equal(t, []string{"http://a:50002", "http://b:50002"}, Dedup(EnvList("PABLOX_LIST", nil)))
}
