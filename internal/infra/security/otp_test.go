package security

import (
	"strconv"
	"testing"
)

func TestOTPGeneratorRange(t *testing.T) {
	gen := NewOTPGenerator()

	for i := 0; i < 2000; i++ {
		code, err := gen.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !IsOTPFormat(code) {
			t.Fatalf("code %q is not six digits", code)
		}
		n, _ := strconv.Atoi(code)
		if n < otpMin || n > otpMax {
			t.Fatalf("code %d outside [%d, %d]", n, otpMin, otpMax)
		}
	}
}

func TestIsOTPFormat(t *testing.T) {
	cases := map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		"":        false,
		"١٢٣٤٥٦":  false,
	}
	for in, want := range cases {
		if got := IsOTPFormat(in); got != want {
			t.Errorf("IsOTPFormat(%q) = %v, want %v", in, got, want)
		}
	}
}
