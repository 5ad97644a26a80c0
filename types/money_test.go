package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	if m := USD(4900); m.Amount != 4900 || m.Currency != "usd" {
		t.Errorf("USD(4900) = %+v", m)
	}
	if m := GBP(9900); m.Currency != "gbp" {
		t.Errorf("GBP currency = %s", m.Currency)
	}
	if m := Zero("USD"); m.Amount != 0 || m.Currency != "usd" {
		t.Errorf("Zero should lowercase currency, got %+v", m)
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := USD(100)
	b := USD(250)

	if got := a.Add(b); got.Amount != 350 {
		t.Errorf("Add = %d, want 350", got.Amount)
	}
	if got := b.Subtract(a); got.Amount != 150 {
		t.Errorf("Subtract = %d, want 150", got.Amount)
	}
	if got := a.Multiply(3); got.Amount != 300 {
		t.Errorf("Multiply = %d, want 300", got.Amount)
	}
}

func TestMoneyCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on currency mismatch")
		}
	}()
	USD(100).Add(EUR(100))
}

func TestMoneyComparison(t *testing.T) {
	if !USD(100).LessThan(USD(200)) {
		t.Error("100 < 200 should hold")
	}
	if !USD(0).IsZero() {
		t.Error("IsZero failed")
	}
	if !USD(1).IsPositive() {
		t.Error("IsPositive failed")
	}
	if !USD(500).Equal(USD(500)) {
		t.Error("Equal failed")
	}
	if USD(500).Equal(EUR(500)) {
		t.Error("Equal should require matching currency")
	}
}

func TestMoneyFormatting(t *testing.T) {
	tests := []struct {
		in   Money
		want string
	}{
		{USD(4900), "$49.00"},
		{USD(5), "$0.05"},
		{USD(-150), "$-1.50"},
		{EUR(19900), "€199.00"},
		{Money{Amount: 100, Currency: "sek"}, "SEK 1.00"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"display":"$49.00"`) {
		t.Errorf("marshal missing display field: %s", data)
	}
}
