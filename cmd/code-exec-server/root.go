package main

import (
	"fmt"
	"os"

	"codeexec/pkg/utils/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// annotationLogStderr keeps stdout free for command output.
const annotationLogStderr = "log-stderr"

var appCfg *AppConfig

var rootCmd = &cobra.Command{
	Use:          "code-exec-server",
	Short:        "Sandboxed code execution service",
	Long:         `code-exec-server runs untrusted source code in short-lived sandboxes with memory, cpu, process, file size and disk limits.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig(cmd.Flags())
		if err != nil {
			return err
		}
		if cmd.Annotations[annotationLogStderr] == "true" && (cfg.Logger.OutputPath == "" || cfg.Logger.OutputPath == "stdout") {
			cfg.Logger.OutputPath = "stderr"
		}
		if err := logger.Init(cfg.Logger); err != nil {
			return fmt.Errorf("init logger failed: %w", err)
		}
		appCfg = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), appCfg)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// registerConfigFlags adds the flags loadAppConfig maps onto config keys.
func registerConfigFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file (yaml)")
	flags.String("addr", defaultHTTPAddr, "HTTP listen address")
	flags.Int64("max-concurrent", defaultMaxConcurrent, "maximum concurrent executions")
	flags.Int64("memory-limit", defaultMemoryBytes, "default memory limit in bytes")
	flags.Int64("cpu-time-limit", defaultCPUSeconds, "default cpu time limit in seconds")
	flags.Int64("max-processes", defaultMaxProcesses, "default maximum number of processes")
	flags.Int64("file-size-limit", defaultFileSizeBytes, "default maximum size of a written file in bytes")
	flags.Int64("disk-space-limit", defaultDiskBytes, "default disk space limit in bytes")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("languages-file", "", "yaml file with additional or overriding language definitions")
}

func init() {
	registerConfigFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, runCmd, languagesCmd, sandboxInitCmd)
}
