// Package config loads the deployment configuration from an optional YAML or
// TOML file, STATICDEPLOY_* environment variables and command-line flags.
// Later sources win: defaults < file < environment < flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "STATICDEPLOY_"

// Ref sources.
const (
	RefSourceGitHub = "github"
	RefSourceGit    = "git"
)

// Storage backends.
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Config holds the fully resolved configuration of one deployment run.
type Config struct {
	DeployType        string
	Environment       string
	TargetURL         string
	Bucket            string
	DeploymentPrefix  string
	Branch            string
	PullRequestNumber int
	CommitTag         string
	MergePullRequest  bool
	BuildFolder       string
	RunCI             bool

	Approvers             []string
	ProtectedEnvironments []string
	ApprovalTimeout       time.Duration
	ApprovalPollInterval  time.Duration
	ApprovalListenAddr    string
	ApprovalToken         string

	CloudflareZoneID string
	CloudflareToken  string

	SentryOrg     string
	SentryProject string
	SentryToken   string
	SentryURL     string

	SlackWebhook string

	GitHubToken      string
	GitHubRepository string
	GitHubAPIURL     string
	RefSource        string
	GitRemote        string
	GitBaseBranch    string

	WorkingDirectory   string
	BuildCommand       string
	InstallAttempts    int
	PublishConcurrency int
	PublishAttempts    int

	Storage          string
	LocalStorageRoot string
	AWSRegion        string
	S3Endpoint       string
	CacheControl     string

	DBPath    string
	LogLevel  string
	LogFormat string
}

// Kind is the value type of an option.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindDuration
	KindList
)

// Option describes one recognised configuration key.
type Option struct {
	Key     string // File key; the env var is EnvPrefix + upper(Key), the flag is Key with dashes.
	Kind    Kind
	Default string
	Usage   string
	set     func(c *Config, v string) error
}

// Env returns the environment variable name of the option.
func (o Option) Env() string {
	return EnvPrefix + strings.ToUpper(o.Key)
}

// Flag returns the command-line flag name of the option.
func (o Option) Flag() string {
	return strings.ReplaceAll(o.Key, "_", "-")
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = strings.TrimSpace(v)
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		v = strings.TrimSpace(v)
		if v == "" {
			*dst(c) = 0
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		v = strings.TrimSpace(v)
		if v == "" || v == "0" {
			*dst(c) = 0
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*dst(c) = d
		return nil
	}
}

func list(dst func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = SplitList(v)
		return nil
	}
}

var options = []Option{
	{Key: "deploy_type", Usage: "from-branch, from-pr or from-tag", set: str(func(c *Config) *string { return &c.DeployType })},
	{Key: "environment", Usage: "target environment name", set: str(func(c *Config) *string { return &c.Environment })},
	{Key: "target_url", Usage: "public URL of the deployed site", set: str(func(c *Config) *string { return &c.TargetURL })},
	{Key: "bucket", Usage: "destination bucket", set: str(func(c *Config) *string { return &c.Bucket })},
	{Key: "deployment_prefix", Usage: "key prefix inside the bucket", set: str(func(c *Config) *string { return &c.DeploymentPrefix })},
	{Key: "branch", Usage: "branch to deploy (from-branch)", set: str(func(c *Config) *string { return &c.Branch })},
	{Key: "pull_request_nb", Kind: KindInt, Usage: "pull request number (from-pr)", set: integer(func(c *Config) *int { return &c.PullRequestNumber })},
	{Key: "commit_tag", Usage: "tag to deploy (from-tag)", set: str(func(c *Config) *string { return &c.CommitTag })},
	{Key: "merge_pull_request", Kind: KindBool, Default: "false", Usage: "merge the pull request into its base before building", set: boolean(func(c *Config) *bool { return &c.MergePullRequest })},
	{Key: "custom_build_folder", Default: model.DefaultBuildFolder, Usage: "build output folder", set: str(func(c *Config) *string { return &c.BuildFolder })},
	{Key: "run_ci", Kind: KindBool, Default: "true", Usage: "clean install of dependencies", set: boolean(func(c *Config) *bool { return &c.RunCI })},

	{Key: "approvers", Kind: KindList, Usage: "comma-separated approver identities", set: list(func(c *Config) *[]string { return &c.Approvers })},
	{Key: "protected_environments", Kind: KindList, Usage: "comma-separated environments that always require approval", set: list(func(c *Config) *[]string { return &c.ProtectedEnvironments })},
	{Key: "approval_timeout", Kind: KindDuration, Default: "0", Usage: "maximum approval wait, 0 waits forever", set: duration(func(c *Config) *time.Duration { return &c.ApprovalTimeout })},
	{Key: "approval_poll_interval", Kind: KindDuration, Default: "15s", Usage: "approval channel poll interval", set: duration(func(c *Config) *time.Duration { return &c.ApprovalPollInterval })},
	{Key: "approval_listen_addr", Usage: "address of the approval HTTP server, empty disables it", set: str(func(c *Config) *string { return &c.ApprovalListenAddr })},
	{Key: "approval_token", Usage: "bearer token required by the approval HTTP server", set: str(func(c *Config) *string { return &c.ApprovalToken })},

	{Key: "cloudflare_zone_id", Usage: "Cloudflare zone to purge", set: str(func(c *Config) *string { return &c.CloudflareZoneID })},
	{Key: "cloudflare_token", Usage: "Cloudflare API token", set: str(func(c *Config) *string { return &c.CloudflareToken })},

	{Key: "sentry_org", Usage: "Sentry organization slug", set: str(func(c *Config) *string { return &c.SentryOrg })},
	{Key: "sentry_project", Usage: "Sentry project slug", set: str(func(c *Config) *string { return &c.SentryProject })},
	{Key: "sentry_token", Usage: "Sentry auth token", set: str(func(c *Config) *string { return &c.SentryToken })},
	{Key: "sentry_url", Default: "https://sentry.io", Usage: "Sentry base URL", set: str(func(c *Config) *string { return &c.SentryURL })},

	{Key: "slack_webhook", Usage: "Slack incoming webhook URL", set: str(func(c *Config) *string { return &c.SlackWebhook })},

	{Key: "github_token", Usage: "GitHub token (falls back to GITHUB_TOKEN)", set: str(func(c *Config) *string { return &c.GitHubToken })},
	{Key: "github_repository", Usage: "owner/repo (falls back to GITHUB_REPOSITORY)", set: str(func(c *Config) *string { return &c.GitHubRepository })},
	{Key: "github_api_url", Usage: "GitHub Enterprise API URL", set: str(func(c *Config) *string { return &c.GitHubAPIURL })},
	{Key: "ref_source", Usage: "github or git (default github when a token is set)", set: str(func(c *Config) *string { return &c.RefSource })},
	{Key: "git_remote", Default: "origin", Usage: "remote fetched by the git ref source, empty resolves local refs", set: str(func(c *Config) *string { return &c.GitRemote })},
	{Key: "git_base_branch", Default: "main", Usage: "base branch pull requests merge into (git ref source)", set: str(func(c *Config) *string { return &c.GitBaseBranch })},

	{Key: "working_directory", Default: ".", Usage: "checked-out project directory", set: str(func(c *Config) *string { return &c.WorkingDirectory })},
	{Key: "build_command", Usage: "build command overriding the package.json scripts", set: str(func(c *Config) *string { return &c.BuildCommand })},
	{Key: "install_attempts", Kind: KindInt, Default: "3", Usage: "dependency install attempts", set: integer(func(c *Config) *int { return &c.InstallAttempts })},
	{Key: "publish_concurrency", Kind: KindInt, Default: "8", Usage: "parallel object transfers (1-16)", set: integer(func(c *Config) *int { return &c.PublishConcurrency })},
	{Key: "publish_attempts", Kind: KindInt, Default: "3", Usage: "attempts per object transfer", set: integer(func(c *Config) *int { return &c.PublishAttempts })},

	{Key: "storage", Default: StorageS3, Usage: "s3 or local", set: str(func(c *Config) *string { return &c.Storage })},
	{Key: "local_storage_root", Default: "storage", Usage: "root directory of the local storage backend", set: str(func(c *Config) *string { return &c.LocalStorageRoot })},
	{Key: "aws_region", Usage: "AWS region", set: str(func(c *Config) *string { return &c.AWSRegion })},
	{Key: "s3_endpoint", Usage: "S3-compatible endpoint URL", set: str(func(c *Config) *string { return &c.S3Endpoint })},
	{Key: "cache_control", Usage: "Cache-Control header sent with every upload", set: str(func(c *Config) *string { return &c.CacheControl })},

	{Key: "db_path", Default: "staticdeploy.db", Usage: "deployment ledger path", set: str(func(c *Config) *string { return &c.DBPath })},
	{Key: "log_level", Default: "info", Usage: "debug, info, warn or error", set: str(func(c *Config) *string { return &c.LogLevel })},
	{Key: "log_format", Default: "text", Usage: "text or json", set: str(func(c *Config) *string { return &c.LogFormat })},
}

var optionsByKey = lo.KeyBy(options, func(o Option) string { return o.Key })

// Options returns every recognised option in declaration order.
func Options() []Option {
	return append([]Option(nil), options...)
}

// LoadOptions selects the optional sources of Load.
type LoadOptions struct {
	// File is a .yaml, .yml or .toml file. Empty skips the file layer.
	File string
	// Flags holds explicitly set command-line values keyed by option key.
	Flags map[string]string
}

// Load resolves the configuration from all layers and validates it.
// Every failure wraps model.ErrConfiguration.
func Load(opts LoadOptions) (*Config, error) {
	cfg := &Config{}
	for _, o := range options {
		if err := o.set(cfg, o.Default); err != nil {
			return nil, fmt.Errorf("%w: default of %s: %w", model.ErrConfiguration, o.Key, err)
		}
	}

	if opts.File != "" {
		values, err := readFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
		}
		for _, key := range sortedKeys(values) {
			o, ok := optionsByKey[key]
			if !ok {
				return nil, fmt.Errorf("%w: %s: unknown key %q", model.ErrConfiguration, opts.File, key)
			}
			if err := o.set(cfg, values[key]); err != nil {
				return nil, fmt.Errorf("%w: %s key %s: %w", model.ErrConfiguration, opts.File, key, err)
			}
		}
	}

	for _, o := range options {
		if v, ok := os.LookupEnv(o.Env()); ok {
			if err := o.set(cfg, v); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", model.ErrConfiguration, o.Env(), err)
			}
		}
	}

	for _, key := range sortedKeys(opts.Flags) {
		o, ok := optionsByKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown flag --%s", model.ErrConfiguration, key)
		}
		if err := o.set(cfg, opts.Flags[key]); err != nil {
			return nil, fmt.Errorf("%w: --%s: %w", model.ErrConfiguration, o.Flag(), err)
		}
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFallbacks fills values from the CI environment and derived defaults.
func (c *Config) applyFallbacks() {
	if c.GitHubToken == "" {
		c.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}
	if c.GitHubRepository == "" {
		c.GitHubRepository = os.Getenv("GITHUB_REPOSITORY")
	}
	if c.RefSource == "" {
		c.RefSource = RefSourceGit
		if c.GitHubToken != "" {
			c.RefSource = RefSourceGitHub
		}
	}
}

// Validate checks the cross-field rules that do not belong to the
// deployment request itself.
func (c *Config) Validate() error {
	var problems []string

	switch c.RefSource {
	case RefSourceGitHub:
		if c.GitHubToken == "" {
			problems = append(problems, "ref_source github requires github_token")
		}
		if strings.Count(c.GitHubRepository, "/") != 1 {
			problems = append(problems, fmt.Sprintf("github_repository %q must be owner/repo", c.GitHubRepository))
		}
	case RefSourceGit:
	default:
		problems = append(problems, fmt.Sprintf("ref_source %q must be github or git", c.RefSource))
	}

	switch c.Storage {
	case StorageS3:
	case StorageLocal:
		if c.LocalStorageRoot == "" {
			problems = append(problems, "storage local requires local_storage_root")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage %q must be s3 or local", c.Storage))
	}

	if lo.Contains(c.ProtectedEnvironments, c.Environment) && len(c.Approvers) == 0 {
		problems = append(problems, fmt.Sprintf("environment %q is protected but no approvers are configured", c.Environment))
	}
	if c.ApprovalRequired() && c.ApprovalListenAddr == "" && (c.GitHubToken == "" || c.GitHubRepository == "") {
		problems = append(problems, "approval is required but no decision channel is configured: set approval_listen_addr or github_token and github_repository")
	}
	if c.ApprovalListenAddr != "" && c.ApprovalToken == "" {
		problems = append(problems, "approval_listen_addr requires approval_token")
	}
	if (c.CloudflareZoneID == "") != (c.CloudflareToken == "") {
		problems = append(problems, "cloudflare_zone_id and cloudflare_token must be set together")
	}
	sentry := []string{c.SentryOrg, c.SentryProject, c.SentryToken}
	if n := len(lo.Compact(sentry)); n != 0 && n != len(sentry) {
		problems = append(problems, "sentry_org, sentry_project and sentry_token must be set together")
	}

	if c.InstallAttempts < 1 {
		problems = append(problems, "install_attempts must be at least 1")
	}
	if c.PublishAttempts < 1 {
		problems = append(problems, "publish_attempts must be at least 1")
	}
	if c.PublishConcurrency < 1 || c.PublishConcurrency > 16 {
		problems = append(problems, "publish_concurrency must be between 1 and 16")
	}
	if c.ApprovalTimeout < 0 || c.ApprovalPollInterval < 0 {
		problems = append(problems, "approval durations must not be negative")
	}

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format %q must be text or json", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// ApprovalRequired reports whether the run must pass the approval gate.
func (c *Config) ApprovalRequired() bool {
	return len(c.Approvers) > 0 || lo.Contains(c.ProtectedEnvironments, c.Environment)
}

// SentryConfigured reports whether the error-tracking release is enabled.
func (c *Config) SentryConfigured() bool {
	return c.SentryOrg != "" && c.SentryProject != "" && c.SentryToken != ""
}

// SlogLevel parses log_level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q must be debug, info, warn or error", c.LogLevel)
	}
	return level, nil
}

// DeploymentRequest builds the validated request for this run.
func (c *Config) DeploymentRequest() (model.DeploymentRequest, error) {
	deployType, err := model.ParseDeployType(c.DeployType)
	if err != nil {
		return model.DeploymentRequest{}, err
	}
	return model.NewDeploymentRequest(model.RequestParams{
		DeployType:        deployType,
		Branch:            c.Branch,
		PullRequestNumber: c.PullRequestNumber,
		MergePullRequest:  c.MergePullRequest,
		Tag:               c.CommitTag,
		Environment:       c.Environment,
		TargetURL:         c.TargetURL,
		Bucket:            c.Bucket,
		DeploymentPrefix:  c.DeploymentPrefix,
		BuildFolder:       c.BuildFolder,
		UseCleanInstall:   c.RunCI,
	})
}

// SplitList splits a comma-separated list, trimming and dropping empty items.
func SplitList(v string) []string {
	items := lo.Compact(lo.Map(strings.Split(v, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if items == nil {
		return []string{}
	}
	return items
}

// readFile decodes a YAML or TOML file into option strings.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config file %s must be .yaml, .yml or .toml", path)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = stringify(v)
	}
	return values, nil
}

// stringify renders a decoded scalar or list the way the env layer spells it.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		return strings.Join(lo.Map(t, func(item any, _ int) string { return stringify(item) }), ",")
	default:
		return fmt.Sprint(t)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
