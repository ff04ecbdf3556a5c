package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. Only flags the user actually set are
// applied, so a flag default never masks a value from the file or env.
type Flags struct {
	fs *pflag.FlagSet

	listenAddr              string
	publicURL               string
	logLevel                string
	logFormat               string
	commandTimeout          time.Duration
	failPendingOnDisconnect bool
	allowedOrigins          []string
}

// RegisterFlags adds the server flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.listenAddr, "listen", d.ListenAddr, "Address the HTTP and websocket server binds to.")
	fs.StringVar(&f.publicURL, "public-url", "", "Base URL of the UI, used for links in alerts.")
	fs.StringVar(&f.logLevel, "log-level", d.LogLevel, "Log level (debug, info, warn, error).")
	fs.StringVar(&f.logFormat, "log-format", d.LogFormat, "Log encoding (json, console).")
	fs.DurationVar(&f.commandTimeout, "command-timeout", d.Commands.DefaultTimeout.D(), "Default timeout for executor commands.")
	fs.BoolVar(&f.failPendingOnDisconnect, "fail-pending-on-disconnect", false, "Fail in-flight commands as soon as their executor disconnects.")
	fs.StringSliceVar(&f.allowedOrigins, "allowed-origin", nil, "Extra origin pattern allowed to open websockets (repeatable).")
	return f
}

// Apply copies every explicitly set flag into cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.fs.Changed("listen") {
		cfg.ListenAddr = f.listenAddr
	}
	if f.fs.Changed("public-url") {
		cfg.PublicURL = f.publicURL
	}
	if f.fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if f.fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if f.fs.Changed("command-timeout") {
		cfg.Commands.DefaultTimeout = Duration(f.commandTimeout)
	}
	if f.fs.Changed("fail-pending-on-disconnect") {
		cfg.Commands.FailPendingOnDisconnect = f.failPendingOnDisconnect
	}
	if f.fs.Changed("allowed-origin") {
		cfg.Transport.AllowedOrigins = f.allowedOrigins
	}
}
