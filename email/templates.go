package email

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/MrEthical07/goAccount/store"
)

type codeCopy struct {
	subject string
	heading string
	intro   string
	outro   string
	tag     string
}

var codeCopies = map[store.Purpose]codeCopy{
	store.PurposeEmailVerify: {
		subject: "Verify your email",
		heading: "Confirm your email address",
		intro:   "Enter this code to finish creating your %s account.",
		outro:   "If you did not sign up, you can ignore this message.",
		tag:     "email-verify",
	},
	store.PurposePasswordReset: {
		subject: "Reset your password",
		heading: "Password reset code",
		intro:   "Enter this code to choose a new %s password.",
		outro:   "If you did not ask for a reset, your password is unchanged and you can ignore this message.",
		tag:     "password-reset",
	},
	store.PurposeDeleteAccount: {
		subject: "Confirm account deletion",
		heading: "Delete your account",
		intro:   "Enter this code to permanently delete your %s account and all of its data.",
		outro:   "If you did not request this, sign in and change your password.",
		tag:     "delete-account",
	},
}

// CodeMessage renders the message carrying a one-time code for purpose.
func CodeMessage(ctx context.Context, product, to string, purpose store.Purpose, code string, ttl time.Duration) (Message, error) {
	c, ok := codeCopies[purpose]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	if product == "" {
		product = "goAccount"
	}
	intro := fmt.Sprintf(c.intro, product)
	expiry := fmt.Sprintf("The code expires in %s.", humanDuration(ttl))

	html, err := Render(ctx, layout(c.subject, codeBody(c.heading, intro, code, expiry, c.outro)))
	if err != nil {
		return Message{}, err
	}

	text := strings.Join([]string{c.heading, "", intro, "", code, "", expiry, c.outro}, "\n")
	return Message{
		To:       to,
		Subject:  fmt.Sprintf("%s: %s", product, c.subject),
		HTMLBody: html,
		TextBody: text,
		Tag:      c.tag,
	}, nil
}

// Render renders tpl to a string.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+
			`</title></head><body style="font-family:Helvetica,Arial,sans-serif;background:#f6f6f6;padding:24px;">`+
			`<div style="max-width:480px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px;">`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</div></body></html>`)
		return err
	})
}

func codeBody(heading, intro, code, expiry, outro string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w,
			`<h1 style="font-size:20px;margin:0 0 16px;">`+templ.EscapeString(heading)+`</h1>`+
				`<p>`+templ.EscapeString(intro)+`</p>`+
				`<p style="font-size:32px;letter-spacing:6px;font-weight:bold;text-align:center;margin:24px 0;">`+
				templ.EscapeString(code)+`</p>`+
				`<p style="color:#555555;">`+templ.EscapeString(expiry)+`</p>`+
				`<p style="color:#888888;font-size:12px;">`+templ.EscapeString(outro)+`</p>`)
		return err
	})
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute:
		m := int(d.Round(time.Minute) / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	default:
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
}
