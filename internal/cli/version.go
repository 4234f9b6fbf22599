package cli

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/ppiankov/chatgate/internal/integrity"
)

const version = "0.3.0"

var versionChecksum bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionChecksum, "checksum", false, "Include the SHA-256 of this binary (for binary.sha256)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := map[string]string{
			"version": version,
			"name":    "chatgate",
		}
		if versionChecksum {
			sum, err := integrity.HashSelf()
			if err != nil {
				return err
			}
			info["sha256"] = sum
		}
		out, _ := sonic.ConfigStd.MarshalIndent(info, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
