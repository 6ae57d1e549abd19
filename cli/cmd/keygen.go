package cmd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"southwinds.dev/courier"
	"southwinds.dev/courier/internal/misc"
)

var (
	keygenBits  int
	keygenOut   string
	keygenForce bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an RSA key pair for a test backend",
	Long: `Keygen writes server.key (PKCS#8, private) and server.pub (PKIX, public) to
the output directory. Production backends keep their own private key; this
pair is meant for local mock servers and integration tests.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		started := auditCmdStart(cmd, args)
		defer func() { err = auditCmdComplete(cmd, err, started) }()

		if keygenBits < courier.MinRSABits {
			return fmt.Errorf("key size %d is below the minimum of %d bits", keygenBits, courier.MinRSABits)
		}

		privPath := filepath.Join(keygenOut, "server.key")
		pubPath := filepath.Join(keygenOut, "server.pub")
		if !keygenForce {
			for _, p := range []string{privPath, pubPath} {
				if _, err := os.Stat(p); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", p)
				}
			}
		}

		key, err := rsa.GenerateKey(rand.Reader, keygenBits)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		privDER, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return fmt.Errorf("failed to encode private key: %w", err)
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			return fmt.Errorf("failed to encode public key: %w", err)
		}

		if err = os.MkdirAll(keygenOut, 0700); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err = os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), misc.FilePermissions); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		if err = os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Private key: %s\n", privPath)
		fmt.Fprintf(cmd.OutOrStdout(), "Public key:  %s\n", pubPath)
		fmt.Fprintf(cmd.OutOrStdout(), "Use with: --encrypt --public-key-file %s\n", pubPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().IntVar(&keygenBits, "bits", 2048, "RSA modulus size")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", ".", "output directory")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite existing key files")
}
