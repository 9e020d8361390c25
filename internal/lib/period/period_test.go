package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "2025-02", Key(time.Date(2025, 2, 14, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-12", Key(time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)))
}

func TestCycleBounds(t *testing.T) {
	anchor := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
		wantDays  int
	}{
		{
			name:      "середина цикла",
			now:       time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC),
			wantDays:  31,
		},
		{
			name:      "до якорного дня берётся предыдущий месяц",
			now:       time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC),
			wantDays:  31,
		},
		{
			name:      "февральский цикл короче",
			now:       time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
			wantDays:  28,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStart, CycleStart(anchor, tt.now))
			assert.Equal(t, tt.wantEnd, CycleEnd(anchor, tt.now))
			assert.Equal(t, tt.wantDays, DaysInCycle(anchor, tt.now))
		})
	}
}

func TestCycleStart_ClampsMonthEndAnchor(t *testing.T) {
	anchor := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), CycleStart(anchor, now))
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), CycleEnd(anchor, now))
}

func TestCycleEnd_DoesNotSkipShortMonth(t *testing.T) {
	anchor := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	// Цикл с 31 января кончается 28 февраля, а не «проскакивает» в март.
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		CycleEnd(anchor, time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)))

	// До якорного дня марта текущий цикл — февральский.
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		CycleStart(anchor, time.Date(2025, 3, 30, 10, 0, 0, 0, time.UTC)))
}

func TestDaysRemaining(t *testing.T) {
	anchor := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)

	// В якорный день остаток равен полной длине цикла.
	assert.Equal(t, 31, DaysRemaining(anchor, time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)))
	// 8 дней после начала 31-дневного цикла.
	assert.Equal(t, 23, DaysRemaining(anchor, time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)))
}
