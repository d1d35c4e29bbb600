package goAccount

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goAccount/identity"
)

func googleProfile(subject, address, name string) identity.Profile {
	return identity.Profile{
		Provider:      "google",
		Subject:       subject,
		Email:         address,
		EmailVerified: true,
		Name:          name,
	}
}

func TestLoginWithIdentityCreatesVerifiedAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.engine.LoginWithIdentity(ctx, googleProfile("g-1", "Carol@Example.com", "Carol Smith"))
	if err != nil {
		t.Fatalf("LoginWithIdentity failed: %v", err)
	}
	p, err := env.engine.Profile(ctx, first.AccountID)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if !p.IsVerified || p.IsGuest || p.Email != "carol@example.com" || p.Username != "carol.smith" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if len(p.Providers) != 1 || p.Providers[0] != "google" {
		t.Fatalf("expected google provider, got %v", p.Providers)
	}

	again, err := env.engine.LoginWithIdentity(ctx, googleProfile("g-1", "carol@example.com", "Carol Smith"))
	if err != nil {
		t.Fatalf("second LoginWithIdentity failed: %v", err)
	}
	if again.AccountID != first.AccountID {
		t.Fatal("expected the linked account to be reused")
	}
	if again.FamilyID == first.FamilyID {
		t.Fatal("expected a new family per login")
	}
}

func TestLoginWithIdentityDerivesUniqueUsername(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signupVerified(t, "carol", "carol@example.com")

	sess, err := env.engine.LoginWithIdentity(context.Background(), googleProfile("g-2", "carol@work.example", ""))
	if err != nil {
		t.Fatalf("LoginWithIdentity failed: %v", err)
	}
	p, err := env.engine.Profile(context.Background(), sess.AccountID)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.Username == "carol" || len(p.Username) != len("carol-")+4 {
		t.Fatalf("expected suffixed username, got %q", p.Username)
	}
}

func TestLoginWithIdentityRequiresManualLinkForExistingEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signupVerified(t, "carol", "carol@example.com")

	_, err := env.engine.LoginWithIdentity(context.Background(), googleProfile("g-3", "carol@example.com", "Carol"))
	if !errors.Is(err, ErrIdentityLinkRequired) {
		t.Fatalf("expected ErrIdentityLinkRequired, got %v", err)
	}
}

func TestLinkIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	carol := env.signupVerified(t, "carol", "carol@example.com")
	dave := env.signupVerified(t, "dave", "dave@example.com")

	if err := env.engine.LinkIdentity(ctx, carol.AccountID, googleProfile("g-4", "other@example.com", "")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected email mismatch to be a validation error, got %v", err)
	}
	if err := env.engine.LinkIdentity(ctx, carol.AccountID, googleProfile("g-4", "carol@example.com", "")); err != nil {
		t.Fatalf("LinkIdentity failed: %v", err)
	}
	if err := env.engine.LinkIdentity(ctx, carol.AccountID, googleProfile("g-4", "carol@example.com", "")); err != nil {
		t.Fatalf("expected relinking the same identity to be a no-op, got %v", err)
	}
	if err := env.engine.LinkIdentity(ctx, dave.AccountID, googleProfile("g-4", "dave@example.com", "")); !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("expected ErrIdentityTaken, got %v", err)
	}

	sess, err := env.engine.LoginWithIdentity(ctx, googleProfile("g-4", "carol@example.com", ""))
	if err != nil {
		t.Fatalf("LoginWithIdentity after link failed: %v", err)
	}
	if sess.AccountID != carol.AccountID {
		t.Fatal("expected the linked account to be logged in")
	}
}

func TestLoginWithIdentityValidatesProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.engine.LoginWithIdentity(context.Background(), identity.Profile{Provider: "google"})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := e.Fields["subject"]; !ok {
		t.Fatalf("expected subject field, got %v", e.Fields)
	}
}

func TestSanitizeUsername(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Carol Smith", "carol.smith"},
		{"  Zoë_99 ", "zo_99"},
		{"a-very-long-display-name-indeed", "a-very-long-display-"},
		{"!!", ""},
	}
	for _, tc := range cases {
		if got := sanitizeUsername(tc.in); got != tc.want {
			t.Fatalf("sanitizeUsername(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
