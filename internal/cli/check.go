package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	admissionv1 "github.com/ppiankov/chatgate/api/admission/v1"
	"github.com/ppiankov/chatgate/internal/client"
	"github.com/ppiankov/chatgate/internal/gate"
)

var (
	checkSession string
	checkRemote  string
	checkDryRun  bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkSession, "session", "s", "", "Session token presented by the client")
	checkCmd.Flags().StringVar(&checkRemote, "remote", "", "Ask a running gRPC admission server instead of the local store")
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Report stored state without counting a request")
}

var checkCmd = &cobra.Command{
	Use:   "check <address>",
	Short: "Run an admission check for a client address",
	Long:  "Runs the admission check exactly as the proxy would for a request from <address>.\nThe check counts as a request and may throttle or ban the client; use --dry-run to only inspect.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	address := args[0]

	if checkRemote != "" {
		return runRemoteCheck(ctx, out, address)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	engine, backend, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	if checkDryRun {
		printSnapshot(out, engine.InspectAddress(ctx, address), engine.Now())
		return nil
	}

	v, err := engine.Decide(ctx, address, checkSession)
	if err != nil {
		return err
	}
	printDecision(out, v.Decision(), v.Message, string(v.Fingerprint), v.Escalated, v.Degraded)
	return nil
}

func runRemoteCheck(ctx context.Context, out io.Writer, address string) error {
	c, err := client.New(checkRemote)
	if err != nil {
		return err
	}
	defer c.Close()

	if checkDryRun {
		info, err := c.Lookup(ctx, admissionv1.LookupRequest{Address: address})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "fingerprint: %s\n", info.Fingerprint)
		fmt.Fprintf(out, "banned:      %v\n", info.Banned)
		if info.Banned {
			fmt.Fprintf(out, "reason:      %s\n", info.BanReason)
		}
		if info.HasSession {
			fmt.Fprintf(out, "sessions:    %d\n", len(info.SessionIDs))
		}
		return nil
	}

	resp, err := c.Decide(ctx, address, checkSession)
	if err != nil {
		return err
	}
	decision := "allow"
	if !resp.Allowed {
		decision = resp.Reason
	}
	printDecision(out, decision, resp.Message, resp.Fingerprint, resp.Escalated, resp.Degraded)
	return nil
}

func printDecision(out io.Writer, decision, message, fp string, escalated, degraded bool) {
	fmt.Fprintf(out, "decision:    %s\n", decision)
	if message != "" {
		fmt.Fprintf(out, "message:     %s\n", message)
	}
	if fp != "" {
		fmt.Fprintf(out, "fingerprint: %s\n", fp)
	}
	if escalated {
		fmt.Fprintln(out, "escalated:   true")
	}
	if degraded {
		fmt.Fprintln(out, "WARNING: a registry was unreadable and treated as empty")
	}
}

func printSnapshot(out io.Writer, snap gate.Snapshot, now time.Time) {
	fmt.Fprintf(out, "fingerprint: %s\n", snap.Fingerprint)
	if snap.Ban != nil {
		fmt.Fprintf(out, "banned:      %s (%s ago)\n", snap.Ban.Reason, age(now, snap.Ban.BannedAt))
	} else {
		fmt.Fprintln(out, "banned:      no")
	}
	if snap.Session != nil {
		fmt.Fprintf(out, "sessions:    %s\n", strings.Join(snap.Session.SessionIDs, ", "))
		if snap.Session.Seen() {
			fmt.Fprintf(out, "last seen:   %s ago\n", age(now, time.UnixMilli(snap.Session.LastRequest)))
		}
	} else {
		fmt.Fprintln(out, "sessions:    none")
	}
	if snap.Degraded {
		fmt.Fprintf(out, "WARNING: registry unreadable: %s\n", snap.DegradedCause)
	}
}
