// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// enroll.go - Authenticator enrollment.
//
// Command: enroll
//
// Generates the TOTP secret that stands in for the enrolled biometric and
// prints its provisioning URL for an authenticator app.
//
// Flags:
//   --force             Replace an existing secret
//   --account NAME      Account label (default from config)
//   --json              Output in JSON format

package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/audit"
	"github.com/DevendraSumaniya20/biometric/internal/biometric"
)

// EventEnrolled is the audit event written by enroll.
const EventEnrolled = "BIOMETRIC_ENROLLED"

// ErrAlreadyEnrolled is returned when a secret exists and --force was not
// given.
var ErrAlreadyEnrolled = errors.New("an authenticator is already enrolled (use --force to replace it)")

// EnrollData is the --json payload of enroll.
type EnrollData struct {
	Issuer   string `json:"issuer"`
	Account  string `json:"account"`
	Secret   string `json:"secret"`
	URL      string `json:"url"`
	Replaced bool   `json:"replaced"`
}

// HandleEnroll handles "bioreauth enroll".
func HandleEnroll(env *Env) error {
	p := NewArgParser(env.Args.Raw, "force")
	if env.Config.Biometric.Driver != "totp" {
		return &ConfigError{Path: env.ConfigPath,
			Err: fmt.Errorf("biometric.driver is %q; enrollment needs \"totp\"", env.Config.Biometric.Driver)}
	}

	s, err := env.OpenStore()
	if err != nil {
		return err
	}
	enrolled, err := biometric.Enrolled(s)
	if err != nil {
		return &CommandError{Command: "enroll", Err: err}
	}
	if enrolled && !p.BoolFlag("force") {
		return &CommandError{Command: "enroll", Err: ErrAlreadyEnrolled}
	}

	issuer := env.Config.Biometric.Issuer
	account := p.FlagOrDefault("account", env.Config.Biometric.Account)
	key, err := biometric.Enroll(s, issuer, account)
	if err != nil {
		return &CommandError{Command: "enroll", Err: err}
	}

	auditor, err := env.OpenAudit("cli")
	if err != nil {
		return err
	}
	if err := auditor.Log(audit.Event{
		Timestamp: env.Clock.Now(),
		EventType: EventEnrolled,
		Success:   true,
		Metadata:  map[string]string{"issuer": issuer, "account": account},
	}); err != nil {
		env.Log.Warn("enrollment not audited", zap.Error(err))
	}

	data := EnrollData{
		Issuer:   key.Issuer(),
		Account:  key.AccountName(),
		Secret:   key.Secret(),
		URL:      key.URL(),
		Replaced: enrolled,
	}
	if env.Args.JSON {
		return NewJSONResponse("enroll", data).Print(env.Out, highlight(env))
	}

	w := env.Out
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("Authenticator Enrolled"))
	fmt.Fprintln(w, RenderSeparator())
	fmt.Fprintln(w, RenderField("Issuer:", data.Issuer))
	fmt.Fprintln(w, RenderField("Account:", data.Account))
	fmt.Fprintln(w, RenderField("Secret:", data.Secret))
	fmt.Fprintln(w, RenderField("URL:", data.URL))
	fmt.Fprintln(w)
	fmt.Fprintln(w, DimStyle.Render("  Add the secret or URL to an authenticator app, then run: bioreauth unlock"))
	if data.Replaced {
		fmt.Fprintln(w, WarningStyle.Render("  The previous secret no longer works."))
	}
	fmt.Fprintln(w)
	return nil
}
