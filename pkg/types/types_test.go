package types

import (
	"math/big"
	"testing"
	"time"
)

func TestDeriveStakeStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		amount *big.Int
		start  time.Time
		want   StakeStatus
	}{
		{"nil amount", nil, now, StakeStatusUnstaked},
		{"zero amount", big.NewInt(0), now, StakeStatusUnstaked},
		{"zero amount old start", big.NewInt(0), now.Add(-30 * 24 * time.Hour), StakeStatusUnstaked},
		{"just staked", big.NewInt(100), now, StakeStatusLocked},
		{"one second before unlock", big.NewInt(100), now.Add(-LockDuration + time.Second), StakeStatusLocked},
		{"exactly at unlock", big.NewInt(100), now.Add(-LockDuration), StakeStatusCompleted},
		{"well past unlock", big.NewInt(100), now.Add(-10 * 24 * time.Hour), StakeStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStakeStatus(tt.amount, tt.start, now)
			if got != tt.want {
				t.Errorf("DeriveStakeStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveStakeStatusZeroAmountWithResidualReward(t *testing.T) {
	// amount == 0 with accrued reward left over is a valid state and
	// must still derive as Unstaked
	now := time.Now()
	status := DeriveStakeStatus(big.NewInt(0), now.Add(-time.Hour), now)
	if status != StakeStatusUnstaked {
		t.Errorf("expected unstaked, got %v", status)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   *big.Int
		decimals int
		want     string
	}{
		{"nil", nil, 6, "0"},
		{"negative", big.NewInt(-1), 6, "0"},
		{"zero", big.NewInt(0), 6, "0"},
		{"whole", big.NewInt(100_000_000), 6, "100"},
		{"fractional", big.NewInt(1_500_000), 6, "1.5"},
		{"sub unit", big.NewInt(25), 6, "0.000025"},
		{"thousands", big.NewInt(1_234_567_000_000), 6, "1,234,567"},
		{"no decimals", big.NewInt(42), 0, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatAmount(tt.amount, tt.decimals)
			if got != tt.want {
				t.Errorf("FormatAmount(%v, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestFormatAmountLargeValue(t *testing.T) {
	// Values past float64 precision must format exactly
	v, _ := new(big.Int).SetString("123456789012345678901234567", 10)
	got := FormatAmount(v, 6)
	want := "123,456,789,012,345,678,901.234567"
	if got != want {
		t.Errorf("FormatAmount large = %q, want %q", got, want)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals int
		want     string
		wantErr  bool
	}{
		{"100", 6, "100000000", false},
		{"1.5", 6, "1500000", false},
		{"0.000001", 6, "1", false},
		{"1,000", 6, "1000000000", false},
		{"-5", 6, "", true},
		{"", 6, "", true},
		{"abc", 6, "", true},
		{"1.1234567", 6, "", true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got.String(), tt.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"100", "0.5", "1,234,567.891"} {
		v, err := ParseAmount(s, 6)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		back, err := ParseAmount(FormatAmount(v, 6), 6)
		if err != nil {
			t.Fatalf("re-parse: %v", err)
		}
		if v.Cmp(back) != 0 {
			t.Errorf("round trip %q: %s != %s", s, v, back)
		}
	}
}

func TestWithdrawalDedupeKey(t *testing.T) {
	w1 := &Withdrawal{TxHash: [32]byte{0xab}, LogIndex: 3}
	w2 := &Withdrawal{TxHash: [32]byte{0xab}, LogIndex: 3}
	w3 := &Withdrawal{TxHash: [32]byte{0xab}, LogIndex: 4}

	if w1.DedupeKey() != w2.DedupeKey() {
		t.Error("identical (txHash, logIndex) must produce identical keys")
	}
	if w1.DedupeKey() == w3.DedupeKey() {
		t.Error("different logIndex must produce different keys")
	}
}

func TestDayKey(t *testing.T) {
	// 23:30 UTC-5 is the next day in UTC
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2026, 1, 31, 23, 30, 0, 0, loc)
	if got := DayKey(ts); got != "2026-02-01" {
		t.Errorf("DayKey = %q, want 2026-02-01", got)
	}
}
