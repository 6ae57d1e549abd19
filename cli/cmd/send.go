package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"southwinds.dev/courier/client"
)

var (
	sendData    string
	sendHeaders []string
)

var sendCmd = &cobra.Command{
	Use:   "send <method> <path>",
	Short: "Send a request to the backend and classify the reply",
	Long: `Send performs one call through the courier client: the body is sealed when
encryption is enabled, the reply is opened when it arrives as an envelope,
and the result is printed as data or as a normalized error.

Examples:
  courier send GET /api/residents/42 --base-url https://gate.example
  courier send POST /api/visitors --data '{"name":"Jane Doe"}' --encrypt
  courier send POST /api/visitors --data @visitor.json -H "Authorization: Bearer $TOKEN"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		started := auditCmdStart(cmd, args)
		defer func() { err = auditCmdComplete(cmd, err, started) }()

		cfg, err := loadEncryption()
		if err != nil {
			return err
		}
		defer cfg.Close()

		opts := []client.Option{
			client.WithLogger(cliLog),
			client.WithAuditLogger(auditLogger),
			client.WithTimeout(viper.GetDuration("backend.timeout")),
		}
		for _, h := range sendHeaders {
			key, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q, expected \"Key: Value\"", h)
			}
			opts = append(opts, client.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
		}

		c, err := client.New(viper.GetString("backend.base_url"), cfg, opts...)
		if err != nil {
			return err
		}

		req := client.Request{Method: args[0], Path: args[1]}
		if sendData != "" {
			body, err := loadSendBody(cmd, sendData)
			if err != nil {
				return err
			}
			req.Body = body
		}

		data, nerr := client.Call[json.RawMessage](cmd.Context(), c, req)
		if nerr != nil {
			if err = printJSON(cmd, Verdict{Error: nerr}); err != nil {
				return err
			}
			return nerr
		}
		return printJSON(cmd, Verdict{Success: true, Data: data})
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendData, "data", "d", "", "JSON body, or @file to read it from a file (@- for stdin)")
	sendCmd.Flags().StringArrayVarP(&sendHeaders, "header", "H", nil, "extra request header, \"Key: Value\"")
}

func loadSendBody(cmd *cobra.Command, data string) (json.RawMessage, error) {
	raw := []byte(data)
	if strings.HasPrefix(data, "@") {
		var err error
		if raw, err = readInput(cmd, strings.TrimPrefix(data, "@")); err != nil {
			return nil, err
		}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
