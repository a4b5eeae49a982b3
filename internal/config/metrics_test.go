package config

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyConfigLoadError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "none", err: nil, want: "none"},
		{name: "validation", err: fmt.Errorf("validate config: %w", errors.New("LICENSED_LICENSE_DEFAULT_TTL_DAYS must be positive")), want: "validation"},
		{name: "parse", err: fmt.Errorf("parse env config: %w", errors.New("LICENSED_SWEEP_INTERVAL: invalid duration")), want: "parse"},
		{name: "envconfig internals", err: errors.New("envconfig.Process: assigning LICENSED_SERVER_RATE_LIMIT_RPM"), want: "parse"},
		{name: "other", err: errors.New("db file unreadable"), want: "load"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyConfigLoadError(tc.err); got != tc.want {
				t.Fatalf("classifyConfigLoadError()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeConfigProfile(t *testing.T) {
	cases := map[string]string{
		"  ProD  ": "prod",
		"dev":      "dev",
		"   ":      "unknown",
		"":         "unknown",
	}
	for in, want := range cases {
		if got := normalizeConfigProfile(in); got != want {
			t.Fatalf("normalizeConfigProfile(%q)=%q want %q", in, got, want)
		}
	}
}
