package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"southwinds.dev/courier"
	"southwinds.dev/courier/audit"
	"southwinds.dev/courier/internal/misc"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage courier configuration",
	Long:  `Manage courier configuration including viewing, validating and initializing settings.`,
}

// configViewCmd shows current configuration
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the resolved configuration from all sources (config file, environment variables, flags). Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigView(cmd, args)
	},
}

// configInitCmd initializes a new configuration file
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	Long:  `Create a new configuration file from a template.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigInit(cmd, args)
	},
}

// configValidateCmd validates the configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the configuration the way a client start-up would: a broken encryption section fails here instead of on the first request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigValidate(cmd, args)
	},
}

// configListCmd lists all available configuration keys
var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printConfigKeys(cmd, getConfigKeyDescriptions())
	},
}

var (
	configForce    bool
	configTemplate string
	configFormat   string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configListCmd)

	configViewCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "output format (yaml, json, table)")

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing config file")
	configInitCmd.Flags().StringVar(&configTemplate, "template", "default", "configuration template (default, minimal, full)")
}

func runConfigView(cmd *cobra.Command, args []string) error {
	settings := viper.AllSettings()
	maskSensitiveValues(settings)

	switch configFormat {
	case "json":
		return printJSON(cmd, settings)
	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	case "table":
		return printConfigTable(cmd)
	default:
		return fmt.Errorf("unsupported format: %s", configFormat)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := getConfigFilePath()

	if _, err := os.Stat(configFile); err == nil && !configForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configFile)
	}

	config, err := getConfigTemplate(configTemplate)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(configFile), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = os.WriteFile(configFile, data, misc.FilePermissions); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", configFile)
	fmt.Fprintf(cmd.OutOrStdout(), "Template used: %s\n", configTemplate)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	problems := validateConfiguration()

	out := cmd.OutOrStdout()
	if len(problems) == 0 {
		fmt.Fprintln(out, "✓ Configuration is valid")
		return nil
	}

	fmt.Fprintln(out, "✗ Configuration validation failed:")
	for _, p := range problems {
		fmt.Fprintf(out, "  - %s\n", p)
	}
	return fmt.Errorf("configuration validation failed with %d errors", len(problems))
}

func validateConfiguration() []string {
	var problems []string

	if _, err := courier.LoadEncryptionConfig(viper.GetViper()); err != nil {
		problems = append(problems, err.Error())
	}

	baseURL := viper.GetString("backend.base_url")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		problems = append(problems, fmt.Sprintf("invalid backend base url: %q (must start with http:// or https://)", baseURL))
	}
	if viper.GetDuration("backend.timeout") <= 0 {
		problems = append(problems, "backend timeout must be a positive duration")
	}

	if viper.GetBool("audit.enabled") {
		auditType := audit.ConfigType(viper.GetString("audit.type"))
		switch auditType {
		case audit.FileAuditType:
			if viper.GetString("audit.options.file_path") == "" {
				problems = append(problems, "audit file path is required when using file audit")
			}
		case audit.SyslogAuditType:
		default:
			problems = append(problems, fmt.Sprintf("invalid audit type: %s (must be one of: file, syslog)", auditType))
		}
	}

	return problems
}

func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".courier.yaml")
}

func getConfigTemplate(template string) (map[string]interface{}, error) {
	encryption := map[string]interface{}{
		"enabled":         false,
		"env_secret_var":  "COURIER_SHARED_SECRET",
		"public_key_file": "server.pub",
		"key_mode":        courier.KeyModeRSA,
		"cipher":          "chacha20-poly1305",
	}

	switch template {
	case "minimal":
		return map[string]interface{}{
			"backend": map[string]interface{}{"base_url": "http://localhost:8080"},
		}, nil
	case "default":
		return map[string]interface{}{
			"backend":    map[string]interface{}{"base_url": "http://localhost:8080", "timeout": "30s"},
			"encryption": encryption,
		}, nil
	case "full":
		encryption["kdf"] = "hkdf-sha256"
		encryption["enable_memory_lock"] = false
		return map[string]interface{}{
			"backend":    map[string]interface{}{"base_url": "http://localhost:8080", "timeout": "30s"},
			"client":     map[string]interface{}{"id": "courier-cli"},
			"log":        map[string]interface{}{"level": "info"},
			"encryption": encryption,
			"audit": map[string]interface{}{
				"enabled":   false,
				"type":      "file",
				"log_level": "info",
				"options":   map[string]interface{}{"file_path": "courier-audit.log"},
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown template: %s (must be one of: default, minimal, full)", template)
	}
}

func getConfigKeyDescriptions() map[string]string {
	return map[string]string{
		"backend.base_url":              "Backend base URL",
		"backend.timeout":               "Per-request timeout (e.g. 30s)",
		"client.id":                     "Client identifier recorded in audit events",
		"log.level":                     "Log level (debug, info, warn, error)",
		"encryption.enabled":            "Seal request bodies into envelopes",
		"encryption.secret":             "Shared secret (prefer env_secret_var)",
		"encryption.env_secret_var":     "Environment variable holding the shared secret",
		"encryption.public_key_pem":     "Server RSA public key, inline PEM",
		"encryption.public_key_file":    "Server RSA public key file",
		"encryption.key_mode":           "Data key protection (rsa, kwp, direct)",
		"encryption.cipher":             "AEAD cipher (chacha20-poly1305, aes-256-gcm)",
		"encryption.kdf":                "Secret key derivation (hkdf-sha256, argon2id, pbkdf2-sha256)",
		"encryption.enable_memory_lock": "Lock process memory to keep secrets out of swap",
		"audit.enabled":                 "Enable audit logging",
		"audit.type":                    "Audit logger type (file, syslog)",
		"audit.options.file_path":       "Audit log file path",
		"audit.log_level":               "Audit log level",
	}
}

func printConfigTable(cmd *cobra.Command) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
	fmt.Fprintln(w, "---\t-----\t------")

	var keys []string
	flattenKeys(viper.AllSettings(), "", &keys)
	sort.Strings(keys)

	for _, key := range keys {
		value := fmt.Sprintf("%v", viper.Get(key))
		source := "default"
		if viper.ConfigFileUsed() != "" {
			source = filepath.Base(viper.ConfigFileUsed())
		}
		envKey := "COURIER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) != "" {
			source = "environment"
		}
		if isSecretKey(key) {
			value = misc.RedactSecret(value)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", key, value, source)
	}
	return nil
}

func printConfigKeys(cmd *cobra.Command, keys map[string]string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "KEY\tDESCRIPTION")
	fmt.Fprintln(w, "---\t-----------")

	sorted := make([]string, 0, len(keys))
	for key := range keys {
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)
	for _, key := range sorted {
		fmt.Fprintf(w, "%s\t%s\n", key, keys[key])
	}
	return nil
}

// flattenKeys recursively flattens nested maps into dot-notation keys
func flattenKeys(m map[string]interface{}, prefix string, keys *[]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenKeys(nested, key, keys)
		} else {
			*keys = append(*keys, key)
		}
	}
}

// maskSensitiveValues recursively masks secret values in configuration
func maskSensitiveValues(config map[string]interface{}) {
	for key, value := range config {
		if nested, ok := value.(map[string]interface{}); ok {
			maskSensitiveValues(nested)
			continue
		}
		if isSecretKey(key) {
			config[key] = misc.RedactSecret(fmt.Sprintf("%v", value))
		}
	}
}

// isSecretKey reports keys whose values are secret material. env_secret_var
// only names a variable and stays visible.
func isSecretKey(key string) bool {
	return misc.IsSensitiveKey(key) && !strings.HasSuffix(key, "env_secret_var")
}
