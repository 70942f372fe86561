package domain

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Tag Mode
// =============================================================================

// TagMode selects how publish tags are produced.
type TagMode string

const (
	TagModeFixed       TagMode = "fixed"       // always "latest", every publish overwrites
	TagModeTimestamped TagMode = "timestamped" // one version tag per publish
)

// IsValid checks if the tag mode is supported.
func (m TagMode) IsValid() bool {
	return m == TagModeFixed || m == TagModeTimestamped
}

// =============================================================================
// Run Configuration
// =============================================================================

// DatabaseParams are the optional database connection parameters handed to the workload.
type DatabaseParams struct {
	URL      string
	Username string
	Password string
}

// Workload holds the environment of the deployed service.
type Workload struct {
	CredentialEnv  string // env name the primary credential is exposed under
	Credential     string // primary credential, required
	WebhookSecret  string
	Profile        string
	Database       DatabaseParams
	CertificatePEM string
	Env            map[string]string // extra variables, lowest precedence
}

// SecretValues returns the non-empty values that must never appear in logs.
func (w Workload) SecretValues() []string {
	var out []string
	for _, v := range []string{w.Credential, w.WebhookSecret, w.Database.URL, w.Database.Password, w.CertificatePEM} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ServiceSizing holds the managed-service scaling knobs.
type ServiceSizing struct {
	Memory         string
	MinInstances   int
	MaxInstances   int
	TimeoutSeconds int
}

// RunConfig is the immutable configuration of one deployment run.
// It is built once at startup and passed explicitly to every component.
type RunConfig struct {
	ProjectID           string
	Region              string
	ServiceName         string
	ImageName           string
	LocalImage          string
	BuildCommand        string
	RegistryHost        string // empty means "{region}-docker.pkg.dev"
	TagMode             TagMode
	KeepCount           int
	CleanupEnabled      bool
	ServiceAccountID    string
	ServiceAccountRoles []string
	Public              bool
	Workload            Workload
	Sizing              ServiceSizing
}

// Validate checks every required input. It runs before any resource is touched.
func (c RunConfig) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"project id", c.ProjectID},
		{"region", c.Region},
		{"service name", c.ServiceName},
		{"image name", c.ImageName},
		{"local image", c.LocalImage},
		{"service account id", c.ServiceAccountID},
		{"workload credential", c.Workload.Credential},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return ConfigError(r.field, "is required")
		}
	}
	if !c.TagMode.IsValid() {
		return ConfigError("tag mode", fmt.Sprintf("%q is not one of fixed, timestamped", c.TagMode))
	}
	if c.KeepCount < 1 {
		return ConfigError("keep count", "must be at least 1")
	}
	if c.Sizing.MinInstances < 0 || c.Sizing.MaxInstances < c.Sizing.MinInstances {
		return ConfigError("instance counts", fmt.Sprintf("min=%d max=%d are inconsistent", c.Sizing.MinInstances, c.Sizing.MaxInstances))
	}
	return nil
}

// Registry returns the registry host images are published to.
func (c RunConfig) Registry() string {
	if c.RegistryHost != "" {
		return c.RegistryHost
	}
	return fmt.Sprintf("%s-docker.pkg.dev", c.Region)
}

// RemoteBase returns the untagged remote reference of the workload image.
func (c RunConfig) RemoteBase() RemoteBase {
	return RemoteBase{
		RegistryHost: c.Registry(),
		Namespace:    c.ProjectID,
		ImageName:    c.ImageName,
	}
}

// WorkloadEnv assembles the environment of the deployed service.
// Named settings win over entries of Workload.Env with the same key.
func (c RunConfig) WorkloadEnv() map[string]string {
	env := make(map[string]string, len(c.Workload.Env)+8)
	for k, v := range c.Workload.Env {
		env[k] = v
	}
	set := func(key, value string) {
		if value != "" {
			env[key] = value
		}
	}
	credentialEnv := c.Workload.CredentialEnv
	if credentialEnv == "" {
		credentialEnv = "TELEGRAM_BOT_TOKEN"
	}
	set(credentialEnv, c.Workload.Credential)
	set("TELEGRAM_WEBHOOK_SECRET", c.Workload.WebhookSecret)
	set("SPRING_PROFILES_ACTIVE", c.Workload.Profile)
	set("DATABASE_URL", c.Workload.Database.URL)
	set("DATABASE_USERNAME", c.Workload.Database.Username)
	set("DATABASE_PASSWORD", c.Workload.Database.Password)
	set("DATABASE_SSL_CERT", c.Workload.CertificatePEM)
	return env
}

// SortedEnvKeys returns the keys of env in lexical order.
func SortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
