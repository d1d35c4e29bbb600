package goAccount

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/store/memory"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with keys valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "jwt leeway valid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 45 * time.Second
			},
			wantValid: true,
		},
		{
			name: "jwt leeway invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "jwt refresh ttl must exceed access ttl",
			mutate: func(c *Config) {
				c.JWT.RefreshTTL = c.JWT.AccessTTL
			},
			wantValid: false,
		},
		{
			name: "jwt signing hs256 valid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
			},
			wantValid: true,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "digest key too short",
			mutate: func(c *Config) {
				c.Refresh.DigestKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "bcrypt valid",
			mutate: func(c *Config) {
				c.Credentials.Algorithm = "bcrypt"
			},
			wantValid: true,
		},
		{
			name: "bcrypt cost too low",
			mutate: func(c *Config) {
				c.Credentials.Algorithm = "bcrypt"
				c.Credentials.BcryptCost = 10
			},
			wantValid: false,
		},
		{
			name: "unknown credential algorithm",
			mutate: func(c *Config) {
				c.Credentials.Algorithm = "md5"
			},
			wantValid: false,
		},
		{
			name: "argon2 memory too low",
			mutate: func(c *Config) {
				c.Credentials.Argon2.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "otp digits too few",
			mutate: func(c *Config) {
				c.OTP.Digits = 4
			},
			wantValid: false,
		},
		{
			name: "otp cooldown must be below ttl",
			mutate: func(c *Config) {
				c.OTP.ResendCooldown = c.OTP.TTL
			},
			wantValid: false,
		},
		{
			name: "password min below floor",
			mutate: func(c *Config) {
				c.Policy.PasswordMinLength = 6
			},
			wantValid: false,
		},
		{
			name: "password max below min",
			mutate: func(c *Config) {
				c.Policy.PasswordMaxLength = 10
			},
			wantValid: false,
		},
		{
			name: "guest domain with at sign",
			mutate: func(c *Config) {
				c.Guest.EmailDomain = "me@guest.local"
			},
			wantValid: false,
		},
		{
			name: "guest domain ignored when disabled",
			mutate: func(c *Config) {
				c.Guest.Enabled = false
				c.Guest.EmailDomain = ""
			},
			wantValid: true,
		},
		{
			name: "empty product name",
			mutate: func(c *Config) {
				c.Mail.ProductName = " "
			},
			wantValid: false,
		},
		{
			name: "login throttle needs attempts",
			mutate: func(c *Config) {
				c.Security.MaxLoginAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "tx timeout required",
			mutate: func(c *Config) {
				c.Store.TxTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "otp max attempts required",
			mutate: func(c *Config) {
				c.OTP.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "confirm throttle budget required when enabled",
			mutate: func(c *Config) {
				c.Security.MaxConfirmAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "confirm throttle budget ignored when disabled",
			mutate: func(c *Config) {
				c.Security.EnableConfirmThrottle = false
				c.Security.MaxConfirmAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "audit buffer required when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		cfg := testConfig(t)
		tt.mutate(&cfg)
		err := cfg.Validate()
		if tt.wantValid && err != nil {
			t.Fatalf("%s: expected valid, got %v", tt.name, err)
		}
		if !tt.wantValid && err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without keys to be rejected")
	}
}

func TestCloneConfigDeepCopiesKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("key-bytes")}

	clone := cloneConfig(cfg)
	cfg.Refresh.DigestKey[0] ^= 0xff
	cfg.JWT.VerifyKeys["k1"][0] = 'X'

	if clone.Refresh.DigestKey[0] == cfg.Refresh.DigestKey[0] {
		t.Fatal("expected digest key to be copied")
	}
	if clone.JWT.VerifyKeys["k1"][0] == 'X' {
		t.Fatal("expected verify keys to be copied")
	}
}

func TestDefaultAuditCriticalEvents(t *testing.T) {
	cfg := DefaultConfig()
	want := map[string]bool{
		auditEventRefreshReuseDetected: true,
		auditEventPasswordResetConfirm: true,
		auditEventAccountDeleted:       true,
		auditEventIdentityLinked:       true,
	}
	if len(cfg.Audit.CriticalEvents) != len(want) {
		t.Fatalf("unexpected critical events: %v", cfg.Audit.CriticalEvents)
	}
	for _, ev := range cfg.Audit.CriticalEvents {
		if !want[ev] {
			t.Fatalf("unexpected critical event %q", ev)
		}
	}

	clone := cloneConfig(cfg)
	cfg.Audit.CriticalEvents[0] = "changed"
	if clone.Audit.CriticalEvents[0] == "changed" {
		t.Fatal("expected critical events to be copied")
	}
}

func TestBuilderRequirements(t *testing.T) {
	cfg := testConfig(t)

	if _, err := New().WithConfig(cfg).Build(); err == nil || !strings.Contains(err.Error(), "store") {
		t.Fatalf("expected missing store error, got %v", err)
	}

	_, err := New().WithConfig(cfg).WithStore(memory.New()).Build()
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected login throttle to require redis, got %v", err)
	}

	cfg.Security.EnableLoginThrottle = false
	_, err = New().WithConfig(cfg).WithStore(memory.New()).Build()
	if err == nil || !strings.Contains(err.Error(), "EnableConfirmThrottle") {
		t.Fatalf("expected confirm throttle to require redis, got %v", err)
	}

	cfg.Security.EnableConfirmThrottle = false
	b := New().WithConfig(cfg).WithStore(memory.New())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build without redis failed: %v", err)
	}
	defer engine.Close()
	if engine.rateLimiter != nil || engine.confirmLimiter != nil || engine.names != nil {
		t.Fatal("expected redis-backed collaborators to stay unset")
	}

	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse to fail")
	}
}
