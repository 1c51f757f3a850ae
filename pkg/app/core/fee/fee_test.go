package fee

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		percent   uint64
		amountGet uint64
		want      uint64
	}{
		{"ten percent", 10, 1000, 100},
		{"zero percent", 0, 1000, 0},
		{"truncates", 10, 19, 1},
		{"below one unit", 10, 9, 0},
		{"hundred percent", 100, 42, 42},
		{"above hundred", 250, 10, 25},
		{"zero amount", 10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Schedule{Percent: tt.percent}.Compute(uint256.NewInt(tt.amountGet))
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestCompute_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := Schedule{Percent: 10}.Compute(max)
	require.ErrorIs(t, err, core.ErrOverflow)

	_, _, err = Schedule{Percent: 1}.Total(max)
	require.ErrorIs(t, err, core.ErrOverflow)
}

func TestTotal(t *testing.T) {
	fee, total, err := Schedule{Percent: 10}.Total(uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(100), fee.Uint64())
	require.Equal(t, uint64(1100), total.Uint64())
}
