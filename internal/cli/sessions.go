package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/chatgate/internal/gate"
)

var sessionsJSON bool

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output raw registry as JSON")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect the session registry",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked clients, most recently active first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove session records older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runSessionsPurge,
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, engine *gate.Engine) error {
		now := engine.Now()
		reg, st := engine.Sessions().Load(ctx, now)
		if st.Degraded() {
			fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: session registry unreadable: %v\n", st.Err)
		}
		out := cmd.OutOrStdout()
		if sessionsJSON {
			return writeIndentedJSON(out, reg)
		}
		if len(reg) == 0 {
			fmt.Fprintln(out, "No tracked sessions.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FINGERPRINT\tTOKENS\tLAST REQUEST")
		for _, fp := range reg.Sorted() {
			rec := reg[fp]
			fmt.Fprintf(w, "%s\t%d\t%s ago\n", fp.Short(), len(rec.SessionIDs), age(now, time.UnixMilli(rec.LastRequest)))
		}
		return w.Flush()
	})
}

func runSessionsPurge(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, engine *gate.Engine) error {
		n, err := engine.Sessions().Purge(ctx, engine.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired session records\n", n)
		return nil
	})
}
