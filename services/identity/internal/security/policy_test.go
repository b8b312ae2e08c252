package security

import (
	"errors"
	"testing"
)

func TestCheckPassword(t *testing.T) {
	if err := CheckPassword("password", "Val1d!pass"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}

	cases := map[string]int{
		"short1!":      1,
		"alllower1!":   1,
		"ALLUPPER1!":   1,
		"NoDigits!!":   1,
		"NoSpecial12":  1,
		"nothingsmart": 3,
	}
	for pw, want := range cases {
		err := CheckPassword("new_password", pw)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%q: expected ValidationError, got %v", pw, err)
		}
		if len(verr.Fields) != want {
			t.Fatalf("%q: expected %d field errors, got %d (%v)", pw, want, len(verr.Fields), verr.Fields)
		}
		if verr.Fields[0].Loc[1] != "new_password" {
			t.Fatalf("%q: unexpected loc %v", pw, verr.Fields[0].Loc)
		}
	}
}

func TestCheckRegistration(t *testing.T) {
	ok := Registration{Username: "listener_1", Email: "a@example.com", Password: "Val1d!pass", DisplayName: "Listener"}
	if err := CheckRegistration(ok); err != nil {
		t.Fatalf("expected valid registration, got %v", err)
	}

	bad := Registration{Username: "x", Email: "not-an-email", Password: "weak", DisplayName: ""}
	var verr *ValidationError
	if !errors.As(CheckRegistration(bad), &verr) {
		t.Fatalf("expected ValidationError")
	}
	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Loc[1]] = true
	}
	for _, want := range []string{"username", "email", "password", "display_name"} {
		if !fields[want] {
			t.Fatalf("expected error for %s, got %v", want, verr.Fields)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Example.COM "); got != "user@example.com" {
		t.Fatalf("unexpected %q", got)
	}
}
