// Package config provides layered configuration loading for syspulse.
//
// Values are resolved in three layers, lowest precedence first:
//  1. Defaults set by the caller on the destination struct
//  2. YAML file (~/.config/syspulse/config.yaml)
//  3. Environment variables (SYSPULSE_<SECTION>_<FIELD>)
//
// Nested keys below a section use a double underscore:
//
//	SYSPULSE_LOGGING_LEVEL=debug            -> logging.level
//	SYSPULSE_LOGGING_FILE__MAX_FILES=3      -> logging.file.max_files
//	SYSPULSE_TELEMETRY_SAMPLING__RATE=0.25  -> telemetry.sampling.rate
//
// LOG_LEVEL and OTEL_SAMPLE_RATE are accepted as shorthands.
//
// Watcher reports changes to the config file so runtime-tunable settings
// (log level, telemetry toggle, sample rate) can be re-applied without a
// restart.
package config
