package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"southwinds.dev/courier"
)

var (
	sealMethod string
	sealPath   string
)

var sealCmd = &cobra.Command{
	Use:   "seal [file]",
	Short: "Seal a JSON payload into an envelope",
	Long: `Seal reads a payload from a file (or stdin) and prints the envelope the
client would send for it. The method and path are bound into the
authentication tag and must match the request the backend receives.

Examples:
  echo '{"visitor":"Jane"}' | courier seal --encrypt --path /api/visitors
  courier seal payload.json --method PUT --path /api/gates/3`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		started := auditCmdStart(cmd, args)
		defer func() { err = auditCmdComplete(cmd, err, started) }()

		sealer, err := newSealer()
		if err != nil {
			return err
		}

		payload, err := readInput(cmd, firstArg(args))
		if err != nil {
			return err
		}

		env, err := sealer.Seal(payload, courier.RequestAAD(sealMethod, sealPath))
		if err != nil {
			return err
		}
		return printJSON(cmd, env)
	},
}

var openCmd = &cobra.Command{
	Use:   "open [file]",
	Short: "Open a reply envelope sealed under the shared payload key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		started := auditCmdStart(cmd, args)
		defer func() { err = auditCmdComplete(cmd, err, started) }()

		sealer, err := newSealer()
		if err != nil {
			return err
		}

		data, err := readInput(cmd, firstArg(args))
		if err != nil {
			return err
		}
		env, err := courier.ParseEnvelope(data)
		if err != nil {
			return err
		}

		plaintext, err := sealer.Open(env, courier.RequestAAD(sealMethod, sealPath))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(plaintext))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(openCmd)

	for _, c := range []*cobra.Command{sealCmd, openCmd} {
		c.Flags().StringVarP(&sealMethod, "method", "X", "POST", "request method bound into the envelope")
		c.Flags().StringVar(&sealPath, "path", "/", "request path bound into the envelope")
	}
}

func newSealer() (*courier.Sealer, error) {
	cfg, err := loadEncryption()
	if err != nil {
		return nil, err
	}
	if !cfg.IsEncryptionEnabled() {
		return nil, errors.New("encryption is disabled; pass --encrypt or set encryption.enabled")
	}
	return courier.NewSealer(cfg, auditLogger)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
