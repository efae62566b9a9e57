package money

import "testing"

func TestFromStringRoundTrip(t *testing.T) {
	m, err := FromString("2450.50")
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if m.String() != "2450.5000" {
		t.Errorf("String() = %q, want 2450.5000", m.String())
	}
}

func TestFromStringInvalid(t *testing.T) {
	if _, err := FromString("not-a-number"); err == nil {
		t.Error("expected error for malformed decimal")
	}
}

func TestAddSub(t *testing.T) {
	a := MustFromString("100.00")
	b := MustFromString("45.50")
	if got := a.Add(b); !got.Equal(MustFromString("145.50")) {
		t.Errorf("Add = %s, want 145.50", got)
	}
	if got := a.Sub(b); !got.Equal(MustFromString("54.50")) {
		t.Errorf("Sub = %s, want 54.50", got)
	}
}

func TestMulInt(t *testing.T) {
	price := MustFromString("2465.00")
	got := price.MulInt(10)
	if !got.Equal(MustFromString("24650")) {
		t.Errorf("MulInt = %s, want 24650", got)
	}
}

func TestRealizedPnLExample(t *testing.T) {
	// Happy-path scenario from SPEC_FULL §8.1: BUY 10 @ 2450.50, SELL 10 @ 2465.00.
	entry := MustFromString("2450.50")
	exit := MustFromString("2465.00")
	realized := exit.Sub(entry).MulInt(10)
	if !realized.Equal(MustFromString("145")) {
		t.Errorf("realized pnl = %s, want 145", realized)
	}
}

func TestRoundBankHalfEven(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"1.005", "1.00"},
		{"1.015", "1.02"},
		{"1.025", "1.02"},
	}
	for _, c := range cases {
		got := MustFromString(c.in).RoundBank()
		want := MustFromString(c.want)
		if !got.Equal(want) {
			t.Errorf("RoundBank(%s) = %s, want %s", c.in, got, want)
		}
	}
}

func TestIsNegativePositiveZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() = false")
	}
	if !MustFromString("-1").IsNegative() {
		t.Error("expected negative")
	}
	if !MustFromString("1").IsPositive() {
		t.Error("expected positive")
	}
}

func TestDivRatio(t *testing.T) {
	reward := MustFromString("40.50")
	risk := MustFromString("20.50")
	ratio := reward.Div(risk)
	if ratio.LessThan(MustFromString("1.97")) || ratio.GreaterThan(MustFromString("1.98")) {
		t.Errorf("ratio = %s, want ~1.975", ratio)
	}
}
