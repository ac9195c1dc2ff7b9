package stripd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateUniqueWithinBounds(t *testing.T) {
	buf, err := NewPixelBuffer(Config{Strips: 3, LEDsPerStrip: 10})
	require.NoError(t, err)

	seen := make(map[int]int)
	for logical := 0; logical < buf.TotalLEDs(); logical++ {
		phys := buf.Translate(logical)
		assert.GreaterOrEqual(t, phys, 0)
		assert.Less(t, phys, 3*MaxLEDsPerStrip)

		prev, dup := seen[phys]
		assert.False(t, dup, "logical %d and %d alias physical slot %d", prev, logical, phys)
		seen[phys] = logical
	}
}

func TestTranslateClampsOutOfRange(t *testing.T) {
	buf, err := NewPixelBuffer(Config{Strips: 3, LEDsPerStrip: 10})
	require.NoError(t, err)

	last := 2*MaxLEDsPerStrip + 9
	assert.Equal(t, last, buf.Translate(buf.TotalLEDs()))
	assert.Equal(t, last, buf.Translate(buf.TotalLEDs()+123))
	assert.Equal(t, last, buf.Translate(-1))
}

func TestSetClampsInsteadOfPanicking(t *testing.T) {
	buf, err := NewPixelBuffer(Config{Strips: 2, LEDsPerStrip: 4})
	require.NoError(t, err)

	buf.Set(MaxTotalLEDs*2, RGB{R: 9})
	assert.Equal(t, RGB{R: 9}, buf.At(1*MaxLEDsPerStrip+3))
}

func TestClearUnusedTail(t *testing.T) {
	buf, err := NewPixelBuffer(Config{Strips: 2, LEDsPerStrip: 4})
	require.NoError(t, err)

	// Stale pixels from a previous, larger configuration.
	buf.pix[0*MaxLEDsPerStrip+7] = RGB{G: 1}
	buf.pix[1*MaxLEDsPerStrip+4] = RGB{B: 2}
	buf.Set(3, RGB{R: 3})

	buf.ClearUnusedTail()

	assert.Equal(t, RGB{}, buf.At(0*MaxLEDsPerStrip+7))
	assert.Equal(t, RGB{}, buf.At(1*MaxLEDsPerStrip+4))
	assert.Equal(t, RGB{R: 3}, buf.At(3), "active pixels must survive a tail clear")
}

func TestReconfigure(t *testing.T) {
	buf, err := NewPixelBuffer(Config{Strips: 2, LEDsPerStrip: 4})
	require.NoError(t, err)

	buf.Set(0, RGB{R: 255})

	changed, err := buf.Reconfigure(Config{Strips: 2, LEDsPerStrip: 4})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, RGB{R: 255}, buf.At(0), "same config must not clear")

	changed, err = buf.Reconfigure(Config{Strips: 3, LEDsPerStrip: 4})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, RGB{}, buf.At(0), "changed config must clear every slot")
	assert.Equal(t, 12, buf.TotalLEDs())
}

func TestReconfigureRejectsInvalid(t *testing.T) {
	buf, err := NewPixelBuffer(Config{Strips: 2, LEDsPerStrip: 4})
	require.NoError(t, err)

	buf.Set(0, RGB{R: 255})

	for _, cfg := range []Config{
		{Strips: 0, LEDsPerStrip: 4},
		{Strips: MaxStrips + 1, LEDsPerStrip: 4},
		{Strips: 2, LEDsPerStrip: 0},
		{Strips: 2, LEDsPerStrip: MaxLEDsPerStrip + 1},
	} {
		_, err := buf.Reconfigure(cfg)
		assert.Error(t, err, "config %+v must be rejected", cfg)
		assert.Equal(t, Config{Strips: 2, LEDsPerStrip: 4}, buf.Config())
		assert.Equal(t, RGB{R: 255}, buf.At(0), "rejected config must not mutate the buffer")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	assert.ErrorIs(t, Config{Strips: 0, LEDsPerStrip: 1}.Validate(), ErrInvalidStrips)
	assert.ErrorIs(t, Config{Strips: 1, LEDsPerStrip: 0}.Validate(), ErrInvalidLength)
	assert.NoError(t, Config{Strips: MaxStrips, LEDsPerStrip: MaxLEDsPerStrip}.Validate())
}
