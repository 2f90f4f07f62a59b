package domain

import (
	"errors"
	"math"
	"testing"
)

func TestParseMajor(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "42.50", want: 4250},
		{in: "42.5", want: 4250},
		{in: "42", want: 4200},
		{in: "0.99", want: 99},
		{in: "0", want: 0},
		{in: ".75", want: 75},
		{in: " 10.00 ", want: 1000},
		{in: "-1.00", wantErr: true},
		{in: "1.999", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "92233720368547758.08", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMajor(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseMajor(%q): expected error, got %d", tc.in, got.Minor())
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMajor(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got.Minor() != tc.want {
			t.Errorf("ParseMajor(%q) = %d, want %d", tc.in, got.Minor(), tc.want)
		}
	}
}

func TestMoneyAdd(t *testing.T) {
	got, err := Money(500).Add(Money(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Money(700) {
		t.Fatalf("expected 700, got %d", got.Minor())
	}

	if _, err := Money(math.MaxInt64).Add(Money(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestMoneySub(t *testing.T) {
	a := Money(500)
	got, err := a.Sub(Money(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Money(300) {
		t.Fatalf("expected 300, got %d", got.Minor())
	}

	if _, err := a.Sub(Money(600)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestNewMoneyRejectsNegative(t *testing.T) {
	if _, err := NewMoney(-1); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	m, err := NewMoney(1250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	major, minor := m.Major()
	if major != 12 || minor != 50 {
		t.Fatalf("expected 12/50, got %d/%d", major, minor)
	}
}
