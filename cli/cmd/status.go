package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"southwinds.dev/courier"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show encryption status",
	Long:  "Display the resolved encryption settings, key protection algorithm and memory protection level.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadEncryption()
	if err != nil {
		return err
	}
	defer cfg.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Courier Status")
	fmt.Fprintln(out, "==============")
	fmt.Fprintf(out, "Backend: %s\n", viper.GetString("backend.base_url"))

	if !cfg.IsEncryptionEnabled() {
		fmt.Fprintln(out, "Encryption: disabled (bodies travel as plain JSON)")
		return nil
	}

	sealer, err := courier.NewSealer(cfg, nil)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Encryption: enabled")
	fmt.Fprintf(out, "Cipher: %s\n", cfg.Cipher())
	fmt.Fprintf(out, "KDF: %s\n", cfg.KDF())
	fmt.Fprintf(out, "Key Protection: %s\n", sealer.KeyAlgorithm())
	fmt.Fprintf(out, "Server Key: RSA %d bits\n", cfg.PublicKey().N.BitLen())
	fmt.Fprintf(out, "Memory Protection: %s\n", cfg.MemoryProtection())
	return nil
}
