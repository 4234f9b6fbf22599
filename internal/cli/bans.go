package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hako/durafmt"
	"github.com/spf13/cobra"

	"github.com/ppiankov/chatgate/internal/ban"
	"github.com/ppiankov/chatgate/internal/fingerprint"
	"github.com/ppiankov/chatgate/internal/gate"
)

var bansJSON bool

func init() {
	rootCmd.AddCommand(bansCmd)
	bansCmd.AddCommand(bansListCmd)
	bansCmd.AddCommand(bansShowCmd)
	bansCmd.AddCommand(bansRemoveCmd)
	bansListCmd.Flags().BoolVar(&bansJSON, "json", false, "Output raw registry as JSON")
}

var bansCmd = &cobra.Command{
	Use:   "bans",
	Short: "Inspect and manage the ban registry",
	Long:  "Bans are permanent. These commands are the only way to lift one.",
}

var bansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List banned fingerprints, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runBansList,
}

var bansShowCmd = &cobra.Command{
	Use:   "show <fingerprint|address>",
	Short: "Show a ban with its evidence",
	Args:  cobra.ExactArgs(1),
	RunE:  runBansShow,
}

var bansRemoveCmd = &cobra.Command{
	Use:   "remove <fingerprint|address>",
	Short: "Lift a ban",
	Args:  cobra.ExactArgs(1),
	RunE:  runBansRemove,
}

// withEngine loads config, opens the store and runs fn.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, engine *gate.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	engine, backend, err := openEngine(ctx, cfg, cfg.Log.NewLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer backend.Close()
	return fn(ctx, engine)
}

// resolveFingerprint accepts a fingerprint or a raw address.
func resolveFingerprint(arg string) fingerprint.Fingerprint {
	if fp := fingerprint.Fingerprint(arg); fingerprint.Valid(fp) {
		return fp
	}
	return fingerprint.Hash(arg)
}

// age renders the time since t as e.g. "3 days 4 hours".
func age(now, t time.Time) string {
	d := now.Sub(t)
	if d < time.Second {
		return "just now"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String()
}

func runBansList(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, engine *gate.Engine) error {
		bans, st := engine.Bans().List(ctx)
		if st.Degraded() {
			fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: ban registry unreadable: %v\n", st.Err)
		}
		out := cmd.OutOrStdout()
		if bansJSON {
			return writeIndentedJSON(out, bans)
		}
		if len(bans) == 0 {
			fmt.Fprintln(out, "No bans.")
			return nil
		}
		printBanTable(out, bans, engine.Now())
		return nil
	})
}

func printBanTable(out io.Writer, bans ban.Bans, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tREASON\tBANNED")
	for _, fp := range bans.Sorted() {
		e := bans[fp]
		fmt.Fprintf(w, "%s\t%s\t%s ago\n", fp.Short(), e.Reason, age(now, e.BannedAt))
	}
	w.Flush()
}

func runBansShow(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, engine *gate.Engine) error {
		fp := resolveFingerprint(args[0])
		entry, st := engine.Bans().Lookup(ctx, fp)
		if st.Degraded() {
			return fmt.Errorf("ban registry unreadable: %w", st.Err)
		}
		if entry == nil {
			return fmt.Errorf("%s is not banned", fp.Short())
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "fingerprint: %s\n", fp)
		fmt.Fprintf(out, "reason:      %s\n", entry.Reason)
		fmt.Fprintf(out, "banned at:   %s (%s ago)\n", entry.BannedAt.UTC().Format(time.RFC3339), age(engine.Now(), entry.BannedAt))
		for _, e := range entry.Evidence {
			fmt.Fprintf(out, "  [%s] %s\n", e.Type, e.Message)
		}
		return nil
	})
}

func runBansRemove(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, engine *gate.Engine) error {
		fp := resolveFingerprint(args[0])
		removed, err := engine.Bans().Remove(ctx, fp)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s is not banned", fp.Short())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ban lifted for %s\n", fp.Short())
		return nil
	})
}
