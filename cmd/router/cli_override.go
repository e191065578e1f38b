package main

import (
	"fmt"

	"github.com/pg-sharding/dsrouter/pkg/config"
	"github.com/spf13/cobra"
)

type overrideRule struct {
	name     string
	changed  func() bool
	validate func() error
	apply    func()
}

func boolOR(dst *bool, add bool) { *dst = *dst || add }

func buildOverrideRules(cmd *cobra.Command, cfg *config.Router) []overrideRule {
	return []overrideRule{
		{
			name:    "log-level",
			changed: func() bool { return cmd.Flags().Changed("log-level") },
			apply:   func() { cfg.LogLevel = logLevel },
		},
		{
			name:    "pretty-log",
			changed: func() bool { return cmd.Flags().Changed("pretty-log") },
			apply:   func() { cfg.PrettyLog = prettyLogging },
		},
		{
			name:    "driver",
			changed: func() bool { return cmd.Flags().Changed("driver") },
			validate: func() error {
				if driverName != config.DriverMySQL && driverName != config.DriverPostgres {
					return fmt.Errorf("unknown driver %q", driverName)
				}
				return nil
			},
			apply: func() { cfg.Driver = driverName },
		},
		{
			name:    "send-reads-to-primary",
			changed: func() bool { return cmd.Flags().Changed("send-reads-to-primary") },
			apply:   func() { boolOR(&cfg.SendReadsToPrimary, sendReadsToPrimary) },
		},
		{
			name:    "allow-bail",
			changed: func() bool { return cmd.Flags().Changed("allow-bail") },
			apply:   func() { cfg.AllowBail = allowBail },
		},
		{
			name:    "metrics-addr",
			changed: func() bool { return cmd.Flags().Changed("metrics-addr") },
			apply:   func() { cfg.MetricsAddr = metricsAddr },
		},
		{
			name:    "jaeger-url",
			changed: func() bool { return cmd.Flags().Changed("jaeger-url") },
			apply:   func() { cfg.JaegerUrl = jaegerURL },
		},
	}
}

func applyOverrides(cmd *cobra.Command, cfg *config.Router) error {
	rules := buildOverrideRules(cmd, cfg)
	for _, r := range rules {
		if r.changed() && r.validate != nil {
			if err := r.validate(); err != nil {
				return fmt.Errorf("%s: %w", r.name, err)
			}
		}
	}
	for _, r := range rules {
		if r.changed() {
			r.apply()
		}
	}
	return nil
}
