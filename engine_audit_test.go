package goAccount

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func withAuditSink(sink AuditSink) func(*Builder) {
	return func(b *Builder) {
		b.WithAuditSink(sink)
	}
}

// collect drains up to limit events or until the channel stays quiet.
func collect(sink *ChannelSink, limit int) []AuditEvent {
	events := make([]AuditEvent, 0, limit)
	timeout := time.After(2 * time.Second)
	for len(events) < limit {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Audit.Enabled = false
	}, withAuditSink(sink))

	_, _ = env.engine.Login(context.Background(), "alice", "Wrong-Horse-99")
	env.engine.Close()

	if sink.count.Load() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.count.Load())
	}
}

func TestAuditLoginFailureCarriesContext(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 16
	}, withAuditSink(sink))

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "test-agent")
	_, _ = env.engine.Login(ctx, "alice", "super-Secret-9")

	events := collect(sink, 1)
	if len(events) != 1 {
		t.Fatal("expected an audit event")
	}
	ev := events[0]
	if ev.EventType != auditEventLoginFailure || ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.IP != "198.51.100.33" || ev.UserAgent != "test-agent" {
		t.Fatalf("expected request context on event, got ip=%q ua=%q", ev.IP, ev.UserAgent)
	}
	if ev.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("expected %q, got %q", auditErrInvalidCredentials, ev.Error)
	}
	if ev.Metadata["reason"] != "account_not_found" {
		t.Fatalf("expected reason account_not_found, got %q", ev.Metadata["reason"])
	}
}

func TestAuditReuseDetectedEvent(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
		cfg.Audit.DropIfFull = false
	}, withAuditSink(sink))
	ctx := context.Background()

	sess := env.signupVerified(t, "alice", "alice@example.com")
	if _, err := env.engine.Refresh(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	_, _ = env.engine.Refresh(ctx, sess.RefreshToken)
	env.engine.Close()

	found := false
	for _, ev := range collect(sink, 64) {
		if ev.EventType == auditEventRefreshReuseDetected {
			found = true
			if ev.Error != string(auditErrRefreshReuse) || ev.AccountID != sess.AccountID {
				t.Fatalf("unexpected reuse event %+v", ev)
			}
		}
	}
	if !found {
		t.Fatal("expected a refresh_reuse_detected event")
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
		cfg.Audit.DropIfFull = false
	}, withAuditSink(sink))
	ctx := context.Background()

	if _, err := env.engine.Signup(ctx, SignupRequest{Username: "alice", Email: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	code := env.mailer.lastCode(t, "alice@example.com", "email-verify")
	verified, err := env.engine.VerifyEmail(ctx, "alice@example.com", code)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	rotated, err := env.engine.Refresh(ctx, verified.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	env.engine.Close()

	needles := []string{testPassword, code, verified.RefreshToken, rotated.RefreshToken, rotated.AccessToken}
	events := collect(sink, 64)
	if len(events) == 0 {
		t.Fatal("expected audit events")
	}
	for _, ev := range events {
		for _, needle := range needles {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("secret leaked in error field of %s", ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("secret leaked in metadata of %s", ev.EventType)
				}
			}
		}
	}
}

func TestMetricsCountFlows(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	ctx := context.Background()

	sess := env.signupVerified(t, "alice", "alice@example.com")
	if _, err := env.engine.Refresh(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	_, _ = env.engine.Refresh(ctx, sess.RefreshToken)
	_, _ = env.engine.Login(ctx, "alice", "Wrong-Horse-99")

	snap := env.engine.MetricsSnapshot()
	checks := []struct {
		id   MetricID
		want uint64
	}{
		{MetricSignupSuccess, 1},
		{MetricEmailVerificationSuccess, 1},
		{MetricOTPSent, 1},
		{MetricRefreshSuccess, 1},
		{MetricRefreshReuseDetected, 1},
		{MetricLoginFailure, 1},
	}
	for _, c := range checks {
		if got := snap.Counters[c.id]; got != c.want {
			t.Fatalf("metric %d: expected %d, got %d", c.id, c.want, got)
		}
	}
}
