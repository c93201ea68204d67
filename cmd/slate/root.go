package main

import (
	"github.com/spf13/cobra"

	"github.com/slatedl/slate/internal/config"
	"github.com/slatedl/slate/internal/home"
	"github.com/slatedl/slate/version"
)

var (
	cfgFile string
	outDir  string
)

var rootCmd = &cobra.Command{
	Use:   "slate",
	Short: "Course material fetcher for the PESU Academy portal",
	Long: `Slate downloads course material from the PESU Academy portal and turns it
into a study-ready local tree:

  - Concurrent per-class downloads with checksum-based re-run skipping
  - Background LibreOffice conversion of Office documents to PDF
  - One merged PDF per unit, in class order
  - A combined exam-prep PDF across all units
  - JSON summaries and an index consumable by other tooling`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.slate/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outDir, "out", "", "output directory for course downloads (default: ~/.slate/courses)",
	)

	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	return cm.Get(), nil
}

// openHome resolves the download root, --out beating the config file, and
// makes sure it exists.
func openHome(cfg *config.Config) (*home.Dir, error) {
	base := outDir
	if base == "" {
		base = cfg.BaseDir
	}
	dir, err := home.New(base)
	if err != nil {
		return nil, err
	}
	if err := dir.EnsureExists(); err != nil {
		return nil, err
	}
	return dir, nil
}
