// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/authgate/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Target   TargetConfig   `mapstructure:"target" yaml:"target"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Flows    FlowsConfig    `mapstructure:"flows" yaml:"flows"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool              `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string          `mapstructure:"args" yaml:"args"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
	Debug           bool              `mapstructure:"debug" yaml:"debug"`
}

// TargetConfig identifies the application the engine authenticates against.
// ProbeURL is a protected resource supplied by the calling harness; it is
// never assumed by engine code.
type TargetConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	ProbeURL string `mapstructure:"probe_url" yaml:"probe_url"`
}

// AuthConfig carries the credential pair for the target. The secret binds to
// AUTHGATE_AUTH_SECRET and is redacted everywhere it could be printed.
type AuthConfig struct {
	Principal string         `mapstructure:"principal" yaml:"principal"`
	Secret    schemas.Secret `mapstructure:"secret" yaml:"-"`
}

// SelectorsConfig is the declarative, ranked capability-descriptor table the
// detector and executor share. Each list is tried in order; new flow
// variants are supported by extending a list, not by writing a new script.
type SelectorsConfig struct {
	// Signals used for detection (probe) and filling (executor).
	UsernameFields  []string `mapstructure:"username_fields" yaml:"username_fields"`
	PasswordFields  []string `mapstructure:"password_fields" yaml:"password_fields"`
	TwoFactorInputs []string `mapstructure:"two_factor_inputs" yaml:"two_factor_inputs"`

	// ConsentModals identifies the containment boundary of a blocking
	// dialog; ConsentAffirmative is resolved INSIDE that boundary only.
	ConsentModals      []string `mapstructure:"consent_modals" yaml:"consent_modals"`
	ConsentAffirmative []string `mapstructure:"consent_affirmative" yaml:"consent_affirmative"`

	SubmitControls []string `mapstructure:"submit_controls" yaml:"submit_controls"`
	LoginLinks     []string `mapstructure:"login_links" yaml:"login_links"`

	// AuthMarkers are authenticated-only elements (a user-identity menu);
	// FailureIndicators are explicit credential-rejection banners.
	AuthMarkers       []string `mapstructure:"auth_markers" yaml:"auth_markers"`
	FailureIndicators []string `mapstructure:"failure_indicators" yaml:"failure_indicators"`
}

// FlowsConfig tunes the detect-act state machine.
type FlowsConfig struct {
	MaxIterations int             `mapstructure:"max_iterations" yaml:"max_iterations"`
	Selectors     SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
}

// TimeoutConfig names every deadline the engine uses. The three interactive
// classes are configuration, not per-call-site constants.
type TimeoutConfig struct {
	// Short covers self-resolving UI (consent modal appearance).
	Short time.Duration `mapstructure:"short" yaml:"short"`
	// Medium covers delegated SSO redirects completing on their own.
	Medium time.Duration `mapstructure:"medium" yaml:"medium"`
	// Long covers manual 2FA entry by a human operator.
	Long time.Duration `mapstructure:"long" yaml:"long"`

	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	LookupWindow time.Duration `mapstructure:"lookup_window" yaml:"lookup_window"`
	Navigation   time.Duration `mapstructure:"navigation" yaml:"navigation"`
	PostLoadWait time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// StoreConfig locates the persisted session records.
type StoreConfig struct {
	// Dir defaults to ~/.authgate/sessions when empty.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "authgate")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)

	// -- Flows --
	v.SetDefault("flows.max_iterations", 10)

	// Selector defaults cover the JIRA login variants we meet in practice:
	// the classic os_username form, the unified Atlassian ID form, and the
	// generic fallbacks. Override per target in config.
	v.SetDefault("flows.selectors.username_fields", []string{
		"#login-form-username",
		"input[name='os_username']",
		"#username",
		"input[name='username']",
		"input[type='email']",
		"input[autocomplete='username']",
	})
	v.SetDefault("flows.selectors.password_fields", []string{
		"#login-form-password",
		"input[name='os_password']",
		"#password",
		"input[name='password']",
		"input[type='password']",
	})
	v.SetDefault("flows.selectors.two_factor_inputs", []string{
		"input[name='otp']",
		"input[autocomplete='one-time-code']",
		"#two-step-verification-otp-code-input",
		"input[name='verificationCode']",
	})
	v.SetDefault("flows.selectors.consent_modals", []string{
		"#certificate-consent-dialog",
		"[role='alertdialog']",
		".aui-dialog2[aria-hidden='false']",
	})
	v.SetDefault("flows.selectors.consent_affirmative", []string{
		"button[data-action='accept']",
		"button.confirm",
		"button[type='submit']",
	})
	v.SetDefault("flows.selectors.submit_controls", []string{
		"#login-form-submit",
		"#login-submit",
		"input[name='login']",
		"button[type='submit']",
		"input[type='submit']",
	})
	v.SetDefault("flows.selectors.login_links", []string{
		"#login-link",
		"a[href*='login.jsp']",
		"a[href*='/login']",
	})
	v.SetDefault("flows.selectors.auth_markers", []string{
		"#header-details-user-fullname",
		"#user-options .user-avatar",
		"[data-testid='profile-menu']",
	})
	v.SetDefault("flows.selectors.failure_indicators", []string{
		"#usernameerror",
		".aui-message-error",
		"[data-testid='form-error']",
		"#login-error",
	})

	// -- Timeouts --
	v.SetDefault("timeouts.short", "10s")
	v.SetDefault("timeouts.medium", "5m")
	v.SetDefault("timeouts.long", "3m")
	v.SetDefault("timeouts.poll_interval", "2s")
	v.SetDefault("timeouts.lookup_window", "5s")
	v.SetDefault("timeouts.navigation", "60s")
	v.SetDefault("timeouts.post_load_wait", "1500ms")

	// -- Store --
	v.SetDefault("store.dir", "")
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults; fail loudly if it somehow does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a Config from a viper instance
// that has already read its file/env sources.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// The secret only ever enters through the environment.
	v.BindEnv("auth.secret", "AUTHGATE_AUTH_SECRET")
	v.BindEnv("auth.principal", "AUTHGATE_AUTH_PRINCIPAL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Credentials returns the explicit credential value threaded through the
// engine. Engine packages never read ambient configuration themselves.
func (c *Config) Credentials() schemas.Credentials {
	return schemas.Credentials{
		Principal: c.Auth.Principal,
		Secret:    c.Auth.Secret,
	}
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Target.URL != "" {
		if err := validateAbsoluteURL(c.Target.URL); err != nil {
			return fmt.Errorf("target.url: %w", err)
		}
	}
	if c.Target.ProbeURL != "" {
		if err := validateAbsoluteURL(c.Target.ProbeURL); err != nil {
			return fmt.Errorf("target.probe_url: %w", err)
		}
	}
	if c.Flows.MaxIterations <= 0 {
		return fmt.Errorf("flows.max_iterations must be a positive integer")
	}
	if c.Timeouts.PollInterval <= 0 {
		return fmt.Errorf("timeouts.poll_interval must be a positive duration")
	}
	for name, d := range map[string]time.Duration{
		"timeouts.short":  c.Timeouts.Short,
		"timeouts.medium": c.Timeouts.Medium,
		"timeouts.long":   c.Timeouts.Long,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", raw)
	}
	return nil
}
