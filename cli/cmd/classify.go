package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"southwinds.dev/courier"
)

var classifyStatus int

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Classify a backend reply",
	Long: `Classify reads an ApiResponse body and reports whether it is a success
(respCode "00" or description.status 200) and, if not, the normalized error
a user would see.

Examples:
  echo '{"respCode":"01","message":"Invalid credentials","description":{"status":401}}' | courier classify
  curl -s https://gate.example/api/health | courier classify --status 502`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readInput(cmd, firstArg(args))
		if err != nil {
			return err
		}

		verdict := classifyReply(body, classifyStatus)
		if err = printJSON(cmd, verdict); err != nil {
			return err
		}
		if !verdict.Success {
			return fmt.Errorf("reply classified as failure: %s", verdict.Error.Message)
		}
		return nil
	},
}

// Verdict is the classify command output
type Verdict struct {
	Success bool                     `json:"success"`
	Data    json.RawMessage          `json:"data,omitempty"`
	Error   *courier.NormalizedError `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().IntVar(&classifyStatus, "status", http.StatusOK, "HTTP status the reply arrived with")
}

func classifyReply(body []byte, status int) Verdict {
	data, err := courier.ClassifyBody[json.RawMessage](body)
	if err != nil {
		var classified *courier.ClassifiedError
		if !errors.As(err, &classified) {
			if status >= 200 && status <= 299 {
				err = &courier.UnrecognizedReplyError{Status: status, Err: err}
			} else {
				err = &courier.StatusError{Status: status, Body: string(body)}
			}
		}
		normalized := courier.Normalize(err)
		return Verdict{Error: &normalized}
	}
	return Verdict{Success: true, Data: data}
}
