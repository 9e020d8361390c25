package proration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProrate(t *testing.T) {
	tests := []struct {
		name          string
		oldPrice      int64
		newPrice      int64
		daysRemaining int
		daysInCycle   int
		want          int64
	}{
		{
			name:     "повышение Starter до Professional на 8-й день 31-дневного цикла",
			oldPrice: 1900, newPrice: 4900, daysRemaining: 23, daysInCycle: 31,
			want: 2226, // round(3000 * 23/31)
		},
		{
			name:     "повышение в якорный день даёт полную дельту",
			oldPrice: 1900, newPrice: 4900, daysRemaining: 31, daysInCycle: 31,
			want: 3000,
		},
		{
			name:     "одинаковая цена всегда ноль",
			oldPrice: 4900, newPrice: 4900, daysRemaining: 17, daysInCycle: 30,
			want: 0,
		},
		{
			name:     "понижение прижимается к нулю",
			oldPrice: 4900, newPrice: 1900, daysRemaining: 10, daysInCycle: 31,
			want: 0,
		},
		{
			name:     "ноль оставшихся дней",
			oldPrice: 1900, newPrice: 4900, daysRemaining: 0, daysInCycle: 31,
			want: 0,
		},
		{
			name:     "остаток больше цикла прижимается к длине цикла",
			oldPrice: 1900, newPrice: 4900, daysRemaining: 40, daysInCycle: 31,
			want: 3000,
		},
		{
			name:     "ровно половина минорной единицы округляется вверх",
			oldPrice: 0, newPrice: 5, daysRemaining: 1, daysInCycle: 2,
			want: 3, // 2.5 -> 3
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prorate(tt.oldPrice, tt.newPrice, tt.daysRemaining, tt.daysInCycle)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Доплата линейна по оставшимся дням: сумма долей за d и D-d дней равна полной дельте,
// с точностью до округления half-up.
func TestProrate_Linearity(t *testing.T) {
	const old, new_, cycle = 1900, 4900, 31
	for d := 0; d <= cycle; d++ {
		a := Prorate(old, new_, d, cycle)
		b := Prorate(old, new_, cycle-d, cycle)
		assert.InDelta(t, int64(3000), a+b, 1, "d=%d", d)
	}
}

func TestProrate_NeverNegative(t *testing.T) {
	for d := 0; d <= 31; d++ {
		assert.GreaterOrEqual(t, Prorate(9900, 1900, d, 31), int64(0))
	}
}
