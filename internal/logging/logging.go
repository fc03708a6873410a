// Package logging sets up the tflog root logger and the per-package subsystems.
//
// The root level is read from DIRAUTH_LOG and defaults to WARN. Each subsystem
// can be raised or lowered on its own with DIRAUTH_LOG_<SUBSYSTEM>, for example
// DIRAUTH_LOG_LDAP=TRACE.
package logging

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	"github.com/isometry/dirauth/internal/auth"
	"github.com/isometry/dirauth/internal/config"
	"github.com/isometry/dirauth/internal/ldap"
	"github.com/isometry/dirauth/internal/store"
)

const (
	// EnvLog names the root level variable and prefixes the subsystem ones.
	EnvLog = "DIRAUTH_LOG"

	RootName     = "dirauth"
	DefaultLevel = hclog.Warn
)

// Subsystems lists every subsystem registered by WithSubsystems.
var Subsystems = []string{
	ldap.Subsystem,
	auth.Subsystem,
	store.Subsystem,
	config.Subsystem,
}

// Level returns the root level from the environment.
func Level() hclog.Level {
	level := hclog.LevelFromString(os.Getenv(EnvLog))
	if level == hclog.NoLevel {
		return DefaultLevel
	}
	return level
}

// NewRootLogger returns ctx carrying a JSON root logger on stderr with every subsystem registered.
func NewRootLogger(ctx context.Context) context.Context {
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(RootName),
		tfsdklog.WithLevel(Level()),
		tfsdklog.WithoutLocation(),
		tfsdklog.WithStderrFromInit(),
	)
	return WithSubsystems(ctx)
}

// WithSubsystems registers the subsystems on the root logger in ctx.
func WithSubsystems(ctx context.Context) context.Context {
	for _, name := range Subsystems {
		ctx = tflog.NewSubsystem(ctx, name,
			tflog.WithLevelFromEnv(EnvLog, name),
			tflog.WithRootFields(),
		)
	}
	return ctx
}
