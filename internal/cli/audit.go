package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/chatgate/internal/audit"
)

var (
	tailLines      int
	auditJSON      bool
	auditFP        string
	auditDecision  string
	auditSince     time.Duration
	auditQueryPath string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().BoolVar(&auditJSON, "json", false, "Output as JSON")
	auditQueryCmd.Flags().StringVar(&auditFP, "fingerprint", "", "Only entries for this fingerprint or address")
	auditQueryCmd.Flags().StringVar(&auditDecision, "decision", "", "Only entries with this decision (allow, ban, cooldown, error)")
	auditQueryCmd.Flags().DurationVar(&auditSince, "since", 0, "Only entries newer than this (e.g. 1h)")
	auditQueryCmd.Flags().BoolVar(&auditJSON, "json", false, "Output as JSON")
	auditQueryCmd.Flags().StringVar(&auditQueryPath, "log", "", "Audit log path (default from config)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained decision log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit log entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Filter audit log entries and summarize decisions",
	Args:  cobra.NoArgs,
	RunE:  runAuditQuery,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if !result.Valid {
		return fmt.Errorf("audit chain broken at line %d: %s", result.ErrorLine, result.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	result, err := audit.Query(args[0], audit.Filter{Limit: tailLines})
	if err != nil {
		return err
	}
	return printAuditResult(cmd, result)
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	path := auditQueryPath
	if path == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.AuditLog
	}
	if path == "" {
		return fmt.Errorf("no audit log configured; pass --log")
	}

	filter := audit.Filter{Decision: auditDecision}
	if auditFP != "" {
		filter.Fingerprint = string(resolveFingerprint(auditFP))
	}
	if auditSince > 0 {
		filter.From = time.Now().Add(-auditSince)
	}

	result, err := audit.Query(path, filter)
	if err != nil {
		return err
	}
	return printAuditResult(cmd, result)
}

func printAuditResult(cmd *cobra.Command, result *audit.Result) error {
	out := cmd.OutOrStdout()
	if auditJSON {
		s, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, audit.FormatTimeline(result))
	return nil
}
