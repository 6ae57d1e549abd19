package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"southwinds.dev/courier/audit"
)

var (
	auditJsonOutput    bool
	auditSince         string
	auditUntil         string
	auditAction        string
	auditSuccessFilter string
	auditRequestID     string
	auditKeyAlg        string
	auditLimit         int
	auditOffset        int
	auditDetails       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the envelope and request audit trail",
	Long: `Query the audit trail written by seal, open, classify and command events.
Records carry sizes, algorithms and error categories only, never payloads or
key material.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events with filters",
	Long: `Query audit events with various filtering options.

Examples:
  # All envelope seals
  courier audit query --action envelope_seal

  # Events of one request
  courier audit query --request-id 3f0c...

  # Failures in a time range
  courier audit query --success false --since "2024-01-01T00:00:00Z" --until "2024-01-31T23:59:59Z"`,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	Long: `Show failed operations, e.g. integrity failures on reply envelopes.

Examples:
  courier audit failures --since "$(date -d '24 hours ago' -Iseconds)"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		options, err := buildQueryOptions()
		if err != nil {
			return err
		}
		failed := false
		options.Success = &failed
		return showEvents(cmd, options)
	},
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show audit summary statistics",
	RunE:  runAuditSummary,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditSummaryCmd)

	auditCmd.PersistentFlags().BoolVar(&auditJsonOutput, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "Show events since this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "Show events until this time (RFC3339 format)")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditCmd.PersistentFlags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditCmd.PersistentFlags().BoolVar(&auditDetails, "details", false, "Show detailed event information")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action (envelope_seal, envelope_open, response_classify, ...)")
	auditQueryCmd.Flags().StringVar(&auditSuccessFilter, "success", "", "Filter by success status (true/false)")
	auditQueryCmd.Flags().StringVar(&auditRequestID, "request-id", "", "Filter by request ID")
	auditQueryCmd.Flags().StringVar(&auditKeyAlg, "key-alg", "", "Filter by key protection algorithm")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	return showEvents(cmd, options)
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Action:    auditAction,
		RequestID: auditRequestID,
		KeyAlg:    auditKeyAlg,
		Limit:     auditLimit,
		Offset:    auditOffset,
	}

	if auditSince != "" {
		since, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time format: %w", err)
		}
		options.Since = &since
	}
	if auditUntil != "" {
		until, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time format: %w", err)
		}
		options.Until = &until
	}
	if auditSuccessFilter != "" {
		success, err := strconv.ParseBool(auditSuccessFilter)
		if err != nil {
			return options, fmt.Errorf("invalid success filter %q: must be true or false", auditSuccessFilter)
		}
		options.Success = &success
	}

	return options, nil
}

func showEvents(cmd *cobra.Command, options audit.QueryOptions) error {
	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}

	if auditJsonOutput {
		return printJSON(cmd, result)
	}

	out := cmd.OutOrStdout()
	if len(result.Events) == 0 {
		fmt.Fprintln(out, "No audit events found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tACTION\tSUCCESS\tREQUEST\tKEY ALG\tERROR")
	for _, e := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Action, e.Success,
			shortID(e.RequestID), e.KeyAlg, e.Error)
		if auditDetails && len(e.Metadata) > 0 {
			fmt.Fprintf(w, "\t%s\t\t\t\t\n", formatMetadata(e.Metadata))
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nShowing %d of %d matching events (%d total)\n", len(result.Events), result.Filtered, result.TotalCount)
	if result.HasMore {
		fmt.Fprintf(out, "More events available, use --offset %d\n", options.Offset+len(result.Events))
	}
	return nil
}

func runAuditSummary(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	options.Limit = 0
	options.Offset = 0

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}

	type actionStats struct {
		Total    int `json:"total"`
		Failures int `json:"failures"`
	}
	stats := make(map[string]*actionStats)
	errorsByCategory := make(map[string]int)
	for _, e := range result.Events {
		s, ok := stats[e.Action]
		if !ok {
			s = &actionStats{}
			stats[e.Action] = s
		}
		s.Total++
		if !e.Success {
			s.Failures++
			if e.Error != "" {
				errorsByCategory[e.Error]++
			}
		}
	}

	if auditJsonOutput {
		return printJSON(cmd, map[string]interface{}{
			"events":  result.Filtered,
			"actions": stats,
			"errors":  errorsByCategory,
		})
	}

	actions := make([]string, 0, len(stats))
	for action := range stats {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Audit Summary (%d events)\n", result.Filtered)
	fmt.Fprintln(out, "=========================")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tTOTAL\tFAILURES")
	for _, action := range actions {
		fmt.Fprintf(w, "%s\t%d\t%d\n", action, stats[action].Total, stats[action].Failures)
	}
	if err = w.Flush(); err != nil {
		return err
	}

	if len(errorsByCategory) > 0 {
		fmt.Fprintln(out, "\nFailures by category:")
		categories := make([]string, 0, len(errorsByCategory))
		for c := range errorsByCategory {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			fmt.Fprintf(out, "  %s: %d\n", c, errorsByCategory[c])
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMetadata(metadata map[string]interface{}) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, metadata[k]))
	}
	return strings.Join(parts, " ")
}
