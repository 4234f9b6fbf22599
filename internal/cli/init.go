package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/chatgate/internal/config"
	"github.com/ppiankov/chatgate/internal/recordstore"
	"github.com/ppiankov/chatgate/internal/systemd"
)

var (
	initForce   bool
	initSystemd string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().StringVar(&initSystemd, "systemd", "", "Also write a systemd unit into this directory (e.g. /etc/systemd/system)")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  "Writes the built-in defaults to the config path (default ~/.chatgate/config.yaml)\nso they can be edited. Refuses to overwrite an existing file without --force.",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config path; pass --config")
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)

	if initSystemd == "" {
		return nil
	}
	return writeUnit(cmd, path)
}

func writeUnit(cmd *cobra.Command, cfgPath string) error {
	binary, err := os.Executable()
	if err != nil {
		binary = ""
	}
	absCfg, err := filepath.Abs(cfgPath)
	if err != nil {
		return err
	}
	stateDir := filepath.Dir(recordstore.DefaultDir())
	unitPath := filepath.Join(initSystemd, systemd.UnitName)
	if _, err := os.Stat(unitPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", unitPath)
	}
	if err := os.WriteFile(unitPath, []byte(systemd.Unit(binary, absCfg, stateDir)), 0o644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", unitPath)
	return nil
}
