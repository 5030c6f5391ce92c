// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package auth

import (
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Mailer delivers HTML email.
type Mailer interface {
	Send(ctx context.Context, to, html string) error
}

// ResetLinkBuilder turns a reset token into the link mailed to the user.
type ResetLinkBuilder struct {
	base *url.URL
}

// NewResetLinkBuilder parses the public base URL of the frontend.
func NewResetLinkBuilder(baseURL string) (*ResetLinkBuilder, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, oops.Code("RESET_LINK_INVALID").With("base_url", baseURL).Wrap(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, oops.Code("RESET_LINK_INVALID").
			With("base_url", baseURL).
			Errorf("base url must be absolute")
	}
	return &ResetLinkBuilder{base: u}, nil
}

// Link returns <base>/change-password/<token>.
func (b *ResetLinkBuilder) Link(token string) string {
	return b.base.JoinPath("change-password", token).String()
}

var resetEmailTemplate = template.Must(template.New("reset").Parse(
	`<p>A password reset was requested for your account.</p>` +
		`<p><a href="{{.Link}}">reset password</a></p>` +
		`<p>The link expires in {{.ValidFor}}. If you did not ask for it, ignore this email.</p>`,
))

// RenderResetEmail renders the HTML body of the password reset email.
func RenderResetEmail(link, validFor string) (string, error) {
	var b strings.Builder
	err := resetEmailTemplate.Execute(&b, struct {
		Link     string
		ValidFor string
	}{Link: link, ValidFor: validFor})
	if err != nil {
		return "", oops.Code("RESET_EMAIL_RENDER_FAILED").Wrap(err)
	}
	return b.String(), nil
}

// humanDuration formats whole days or hours for the email body.
func humanDuration(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d >= day && d%day == 0:
		return plural(int(d/day), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
