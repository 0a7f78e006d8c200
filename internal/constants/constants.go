// Package constants defines the constants used across the analytics service.
package constants

import "log/slog"

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the ETL service command.
	CmdName = "construction-hub-etl-service"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// DefaultRegistryPath is the default path of the service registry file.
	DefaultRegistryPath = "/etc/" + CmdName + "/services.json"
)
