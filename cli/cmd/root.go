package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"southwinds.dev/courier"
	"southwinds.dev/courier/audit"
	"southwinds.dev/courier/logger"
)

var (
	cfgFile     string
	auditLogger audit.Logger
	cliLog      logger.Logger
	cliContext  *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Secure API transport and response classification",
	Long: `courier seals request bodies into authenticated envelopes, sends them to the
backend and classifies every reply into data or a user-facing error.

Bodies are encrypted with ChaCha20-Poly1305 (or AES-256-GCM) under a fresh
data key that is wrapped with the server's RSA public key, or with AES-KWP
under a key derived from the shared secret.`,
	SilenceUsage:      true,
	PersistentPreRunE: initializeCLI,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if auditLogger != nil {
			return auditLogger.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.courier.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("base-url", "", "backend base URL")
	rootCmd.PersistentFlags().String("client-id", "", "client identifier recorded in audit events")

	bindFlagOrPanic("log.level", "log-level")
	bindFlagOrPanic("backend.base_url", "base-url")
	bindFlagOrPanic("client.id", "client-id")

	// Encryption flags
	rootCmd.PersistentFlags().Bool("encrypt", false, "enable envelope encryption")
	rootCmd.PersistentFlags().String("secret", "", "shared secret (or use COURIER_ENCRYPTION_SECRET env var)")
	rootCmd.PersistentFlags().String("public-key-file", "", "server RSA public key (PEM)")
	rootCmd.PersistentFlags().String("key-mode", "", "data key protection (rsa, kwp, direct)")
	rootCmd.PersistentFlags().String("cipher", "", "AEAD cipher (chacha20-poly1305, aes-256-gcm)")

	bindFlagOrPanic("encryption.enabled", "encrypt")
	bindFlagOrPanic("encryption.secret", "secret")
	bindFlagOrPanic("encryption.public_key_file", "public-key-file")
	bindFlagOrPanic("encryption.key_mode", "key-mode")
	bindFlagOrPanic("encryption.cipher", "cipher")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/courier")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".courier")
	}

	viper.SetEnvPrefix("COURIER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if os.Getenv("DEBUG") == "true" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	courier.SetDefaults(viper.GetViper())

	viper.SetDefault("log.level", "info")
	viper.SetDefault("backend.base_url", "http://localhost:8080")
	viper.SetDefault("backend.timeout", "30s")
	viper.SetDefault("client.id", "courier-cli")

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.file_path", "courier-audit.log")
	viper.SetDefault("audit.log_level", "info")
}

func initializeCLI(cmd *cobra.Command, args []string) error {
	cliLog = logger.NewLogger(logger.ParseLevel(viper.GetString("log.level")))
	cliLog.SetWriter(os.Stderr)

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	// config commands must work on a broken configuration
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || isConfigCommand(cmd) {
		auditLogger = audit.NewNoOpLogger()
		return nil
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	return nil
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == configCmd {
			return true
		}
	}
	return false
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled:  viper.GetBool("audit.enabled"),
		ClientID: viper.GetString("client.id"),
		Type:     audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

// loadEncryption reads the encryption section once per command. A
// misconfiguration stops the command before anything is sent.
func loadEncryption() (*courier.EncryptionConfig, error) {
	cfg, err := courier.LoadEncryptionConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	cliLog.WithFields(map[string]interface{}{
		"enabled":  cfg.IsEncryptionEnabled(),
		"key_mode": cfg.KeyMode(),
		"cipher":   cfg.Cipher(),
	}).Debug("encryption configuration loaded")
	return cfg, nil
}
