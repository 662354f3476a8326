package utils

import "testing"

func TestHashAndCheckSecret(t *testing.T) {
	h, err := HashSecret("123456")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckSecret("123456", h) || CheckSecret("654321", h) || CheckSecret("123456", "") {
		t.Fatalf("secret check wrong")
	}
}

func TestNewOTP(t *testing.T) {
	for i := 0; i < 50; i++ {
		otp, err := NewOTP()
		if err != nil {
			t.Fatal(err)
		}
		if len(otp) != 6 {
			t.Fatalf("otp %q", otp)
		}
		for _, r := range otp {
			if r < '0' || r > '9' {
				t.Fatalf("otp %q", otp)
			}
		}
	}
}

func TestNewToken(t *testing.T) {
	a, _ := NewToken(16)
	b, _ := NewToken(16)
	if len(a) != 32 || a == b {
		t.Fatalf("tokens %q %q", a, b)
	}
}
