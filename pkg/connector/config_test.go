// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig_Defaults verifies the duration getters fall back to sane
// values when the config leaves them unset.
func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	var c Config

	if got := c.DMRefreshInterval(); got != 60*time.Second {
		t.Errorf("DMRefreshInterval default = %v", got)
	}
	if got := c.DedupWindow(); got != 60*time.Second {
		t.Errorf("DedupWindow default = %v", got)
	}
	if got := c.TypingInterval(); got != time.Second {
		t.Errorf("TypingInterval default = %v", got)
	}
	if got := c.JobPollInterval(); got != 500*time.Millisecond {
		t.Errorf("JobPollInterval default = %v", got)
	}
	if got := c.JobPollTimeout(); got != 5*time.Minute {
		t.Errorf("JobPollTimeout default = %v", got)
	}
}

// TestConfig_ExplicitValues verifies configured values override defaults.
func TestConfig_ExplicitValues(t *testing.T) {
	t.Parallel()
	c := Config{
		DMRefreshIntervalSeconds: 30,
		DedupWindowSeconds:       120,
		TypingIntervalSeconds:    2,
		JobPollIntervalMS:        250,
		JobPollTimeoutSeconds:    60,
	}

	if got := c.DMRefreshInterval(); got != 30*time.Second {
		t.Errorf("DMRefreshInterval = %v", got)
	}
	if got := c.DedupWindow(); got != 2*time.Minute {
		t.Errorf("DedupWindow = %v", got)
	}
	if got := c.TypingInterval(); got != 2*time.Second {
		t.Errorf("TypingInterval = %v", got)
	}
	if got := c.JobPollInterval(); got != 250*time.Millisecond {
		t.Errorf("JobPollInterval = %v", got)
	}
	if got := c.JobPollTimeout(); got != time.Minute {
		t.Errorf("JobPollTimeout = %v", got)
	}
}

// TestConfig_ExampleParses verifies the embedded example config decodes
// into the Config struct.
func TestConfig_ExampleParses(t *testing.T) {
	t.Parallel()
	var c Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &c); err != nil {
		t.Fatalf("example config does not parse: %v", err)
	}
	if c.DisplaynameTemplate == "" {
		t.Fatal("example config is missing the displayname template")
	}
	if err := c.PostProcess(); err != nil {
		t.Fatalf("example displayname template does not compile: %v", err)
	}
}

// TestFormatDisplayname verifies template rendering and its fallbacks.
func TestFormatDisplayname(t *testing.T) {
	t.Parallel()
	c := Config{DisplaynameTemplate: "{{.Name}} (GroupMe)"}
	if err := c.PostProcess(); err != nil {
		t.Fatalf("template parse failed: %v", err)
	}

	got := c.FormatDisplayname(DisplaynameParams{Name: "Alice", UserID: "2000"})
	if got != "Alice (GroupMe)" {
		t.Fatalf("unexpected displayname %q", got)
	}

	// Without a parsed template the raw name passes through.
	var plain Config
	if got := plain.FormatDisplayname(DisplaynameParams{Name: "Bob"}); got != "Bob" {
		t.Fatalf("unexpected fallback displayname %q", got)
	}
}
