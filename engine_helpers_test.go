package goAccount

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/goAccount/email"
	"github.com/MrEthical07/goAccount/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "Correct-Horse-9"

var codeLine = regexp.MustCompile(`(?m)^[0-9]{6}$`)

// captureMailer records every message instead of delivering it.
type captureMailer struct {
	mu   sync.Mutex
	sent []email.Message
	fail error
}

func (m *captureMailer) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// lastCode returns the code of the newest message to `to` tagged tag.
func (m *captureMailer) lastCode(t *testing.T, to, tag string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		msg := m.sent[i]
		if msg.To != to || msg.Tag != tag {
			continue
		}
		code := codeLine.FindString(msg.TextBody)
		if code == "" {
			t.Fatalf("message to %s has no code line", to)
		}
		return code
	}
	t.Fatalf("no %s message sent to %s", tag, to)
	return ""
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// testConfig uses the cheapest argon2id parameters Validate accepts.
func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	digestKey := make([]byte, 32)
	if _, err := rand.Read(digestKey); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Refresh.DigestKey = digestKey
	cfg.Credentials.Argon2.Memory = 8 * 1024
	cfg.Credentials.Argon2.Time = 1
	cfg.Credentials.Argon2.Parallelism = 1
	cfg.Credentials.UpgradeOnLogin = false
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	mailer *captureMailer
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	st := memory.New()
	mailer := &captureMailer{}
	b := New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(rdb).
		WithMailer(mailer)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: st, mailer: mailer, redis: mr}
}

// signupVerified runs signup and verification and returns the first session.
func (env *testEnv) signupVerified(t *testing.T, username, address string) *Session {
	t.Helper()

	ctx := context.Background()
	if _, err := env.engine.Signup(ctx, SignupRequest{Username: username, Email: address, Password: testPassword}); err != nil {
		t.Fatalf("Signup(%s) failed: %v", username, err)
	}
	code := env.mailer.lastCode(t, strings.ToLower(address), "email-verify")
	sess, err := env.engine.VerifyEmail(ctx, address, code)
	if err != nil {
		t.Fatalf("VerifyEmail(%s) failed: %v", address, err)
	}
	return sess
}

// wrongCode returns a code of the same width that differs from code.
func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}
