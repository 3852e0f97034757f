// Copyright 2024-2026 Chad Ouming

package connector

import (
	_ "embed"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the GroupMe connector configuration.
type Config struct {
	DisplaynameTemplate string `yaml:"displayname_template"`

	// DMRefreshIntervalSeconds controls how often the bridge re-lists direct
	// conversations to pick up brand-new ones, since GroupMe pushes no event
	// for DM creation. Defaults to 60.
	DMRefreshIntervalSeconds int `yaml:"dm_refresh_interval_seconds"`
	// DedupWindowSeconds is how long an outbound message waits for its push
	// echo before the suppression entry expires. Defaults to 60.
	DedupWindowSeconds int `yaml:"dedup_window_seconds"`
	// TypingIntervalSeconds is the repeat interval for outbound typing
	// signals. GroupMe expects a re-assert roughly every second.
	TypingIntervalSeconds int `yaml:"typing_interval_seconds"`
	// JobPollIntervalMS is the delay between status checks of file upload
	// and video transcode jobs. Defaults to 500.
	JobPollIntervalMS int `yaml:"job_poll_interval_ms"`
	// JobPollTimeoutSeconds bounds a single upload or transcode job wait.
	// Defaults to 300.
	JobPollTimeoutSeconds int `yaml:"job_poll_timeout_seconds"`

	BackfillEnabled  bool `yaml:"backfill_enabled"`
	BackfillMaxCount int  `yaml:"backfill_max_count"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Name     string
	Nickname string
	UserID   string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

// DMRefreshInterval returns the discovery-refresh interval as a duration.
func (c *Config) DMRefreshInterval() time.Duration {
	if c.DMRefreshIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.DMRefreshIntervalSeconds) * time.Second
}

// DedupWindow returns the echo-suppression window as a duration.
func (c *Config) DedupWindow() time.Duration {
	if c.DedupWindowSeconds <= 0 {
		return defaultDedupWindow
	}
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// TypingInterval returns the typing heartbeat interval as a duration.
func (c *Config) TypingInterval() time.Duration {
	if c.TypingIntervalSeconds <= 0 {
		return defaultTypingInterval
	}
	return time.Duration(c.TypingIntervalSeconds) * time.Second
}

// JobPollInterval returns the job status poll interval as a duration.
func (c *Config) JobPollInterval() time.Duration {
	if c.JobPollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.JobPollIntervalMS) * time.Millisecond
}

// JobPollTimeout returns the overall bound on one job wait as a duration.
func (c *Config) JobPollTimeout() time.Duration {
	if c.JobPollTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.JobPollTimeoutSeconds) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.Int, "dm_refresh_interval_seconds")
	helper.Copy(up.Int, "dedup_window_seconds")
	helper.Copy(up.Int, "typing_interval_seconds")
	helper.Copy(up.Int, "job_poll_interval_ms")
	helper.Copy(up.Int, "job_poll_timeout_seconds")
	helper.Copy(up.Bool, "backfill_enabled")
	helper.Copy(up.Int, "backfill_max_count")
}

func (gc *GroupMeConnector) GetConfig() (example string, data any, upgrader up.Upgrader) {
	return ExampleConfig, &gc.Config, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil {
		return params.Name
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
