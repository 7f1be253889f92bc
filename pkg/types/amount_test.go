package types

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"0", 0, false},
		{"1", Coin, false},
		{"100", 100 * Coin, false},
		{"0.5", Coin / 2, false},
		{"0.000000000001", 1, false},
		{"12.25", 12*Coin + Coin/4, false},
		{"", 0, true},
		{"-1", 0, true},
		{"1.0000000000001", 0, true},
		{"abc", 0, true},
		{"99999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestAmount_String(t *testing.T) {
	tests := []struct {
		in   Amount
		want string
	}{
		{0, "0"},
		{Coin, "1"},
		{Coin / 2, "0.5"},
		{100*Coin + 1, "100.000000000001"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Amount(%d).String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}

func TestAmount_Percent(t *testing.T) {
	tests := []struct {
		amount Amount
		pct    uint64
		want   Amount
	}{
		{Coins(500), 20, Coins(100)},
		{Coins(100), 30, Coins(30)},
		{Coins(1000), 10, Coins(100)},
		{Amount(1), 10, Amount(1)}, // rounds up
		{Amount(0), 30, 0},
		{Coins(5), 0, 0},
	}
	for _, tt := range tests {
		if got := tt.amount.Percent(tt.pct); got != tt.want {
			t.Errorf("%s.Percent(%d) = %s, want %s", tt.amount, tt.pct, got, tt.want)
		}
	}
}

func TestAmount_JSON(t *testing.T) {
	data, err := json.Marshal(Coins(3) + Coin/10)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(data) != `"3.1"` {
		t.Errorf("Marshal = %s, want \"3.1\"", data)
	}

	var a Amount
	if err := json.Unmarshal([]byte(`"250.75"`), &a); err != nil {
		t.Fatalf("Unmarshal string error: %v", err)
	}
	if a != Coins(250)+Coin*3/4 {
		t.Errorf("Unmarshal string = %s, want 250.75", a)
	}

	if err := json.Unmarshal([]byte(`42`), &a); err != nil {
		t.Fatalf("Unmarshal number error: %v", err)
	}
	if a != Coins(42) {
		t.Errorf("Unmarshal number = %s, want 42", a)
	}
}

func TestFromFloat(t *testing.T) {
	if got := FromFloat(0.05); got != 50*MilliCoin {
		t.Errorf("FromFloat(0.05) = %d, want %d", uint64(got), uint64(50*MilliCoin))
	}
	if got := FromFloat(-1); got != 0 {
		t.Errorf("FromFloat(-1) = %d, want 0", uint64(got))
	}
}
