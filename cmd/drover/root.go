package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"drover/internal/config"
	"drover/internal/logging"
)

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// CLI holds state shared by the subcommands.
type CLI struct {
	cfgFile string
	verbose bool

	cfg     config.Config
	logger  *logging.WriterLogger
	logFile *os.File
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "drover",
		Short: "Autonomous coding agent core",
		Long: fmt.Sprintf(`%s

drover drives goal-directed runs: a reasoning provider plans, a policy
gateway guards every tool call, patches apply atomically, and humans
resolve whatever the rules park.

%s
  drover run "fix the failing test" --script plan.yaml
  drover serve                       # approval and observation API
  drover approvals list              # pending decisions on a server
  drover hooks validate rules.yaml   # check a rules file
  drover version`,
			bold("drover "+version),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cli.cfgFile, "config", "c", "", "Config file (default drover.yaml in $HOME or .)")
	rootCmd.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(newRunCommand(cli))
	rootCmd.AddCommand(newServeCommand(cli))
	rootCmd.AddCommand(newApprovalsCommand(cli))
	rootCmd.AddCommand(newHooksCommand())
	rootCmd.AddCommand(newVersionCommand())

	viper.SetConfigName("drover")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	return rootCmd
}

// initialize loads configuration and builds the logger. Commands that
// need them call this once at the top of their RunE.
func (c *CLI) initialize() error {
	path := c.cfgFile
	if path == "" {
		if err := viper.ReadInConfig(); err == nil {
			path = viper.ConfigFileUsed()
		} else {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to locate config: %w", err)
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := logging.ParseLevel(cfg.Logging.Level)
	if c.verbose {
		level = logging.LevelDebug
	}
	out := io.Writer(os.Stderr)
	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Logging.File, err)
		}
		c.logFile = file
		out = file
	}
	c.logger = logging.New(out, level)
	return nil
}

func (c *CLI) close() {
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}
