package clip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadless_SetSignalsOnce(t *testing.T) {
	b := NewHeadless()
	b.Set(Item{MIME: MIMEText, Data: []byte("a")})
	b.Set(Item{MIME: MIMEText, Data: []byte("b")})

	select {
	case <-b.Watch():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-b.Watch():
		t.Fatal("signals must coalesce")
	default:
	}

	items, err := b.Read()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", string(items[0].Data))
}

func TestHeadless_WriteDoesNotSignal(t *testing.T) {
	b := NewHeadless()
	require.NoError(t, b.Write([]Item{{MIME: MIMEPNG, Data: []byte{1}}}))
	select {
	case <-b.Watch():
		t.Fatal("write must not signal")
	default:
	}
	items, _ := b.Read()
	require.Len(t, items, 1)
	assert.True(t, items[0].IsImage())
	assert.Equal(t, "image/png (1 bytes)", items[0].String())
}
