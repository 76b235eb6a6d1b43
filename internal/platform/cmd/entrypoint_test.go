package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type entrypointTestConfig struct {
	Dir string `env:"PLAYERVAULT_ENTRYPOINT_TEST_DIR" envDefault:"snapshots"`
}

func TestParseConfigFromArgs(t *testing.T) {
	var cfg entrypointTestConfig
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "")

	if err := ParseConfigFromArgs(&cfg, fs, []string{"-dir", "override"}); err != nil {
		t.Fatalf("parse config from args: %v", err)
	}
	if cfg.Dir != "override" {
		t.Fatalf("expected flag override, got %q", cfg.Dir)
	}
}

func TestParseConfigNilTarget(t *testing.T) {
	if err := ParseConfig[entrypointTestConfig](nil); err == nil {
		t.Fatal("expected error for nil config target")
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), " ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	t.Setenv("PLAYERVAULT_OTEL_ENDPOINT", "")
	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), ServiceVault, func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected run error to propagate, got %v", err)
	}
}
