package main

import (
	"fmt"

	"github.com/kahiteam/circbuf/internal/config"
	"github.com/kahiteam/circbuf/internal/daemon"
	"github.com/kahiteam/circbuf/internal/logging"
	"github.com/spf13/cobra"
)

var (
	daemonConfig string
	daemonCheck  bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the circbuf daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Resolve(daemonConfig)
		if err != nil {
			return err
		}
		cfg, warnings, err := config.LoadWithIncludes(path)
		if err != nil {
			return err
		}

		if daemonCheck {
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d buffers)\n", path, len(cfg.Buffers))
			return nil
		}

		lv := logging.NewLevelVar(cfg.Daemon.LogLevel)
		logger, out, err := logging.DaemonLogger(logging.DaemonOptions{
			Format:   cfg.Daemon.LogFormat,
			Logfile:  cfg.Daemon.Logfile,
			MaxBytes: cfg.Daemon.LogfileMaxbytes,
			Backups:  cfg.Daemon.LogfileBackups,
			Syslog:   cfg.Daemon.Syslog,
			LevelVar: lv,
		})
		if err != nil {
			return err
		}
		for _, w := range warnings {
			logger.Warn("config warning", "warning", w)
		}
		daemon.RootWarning(logger)
		logger.Info("config loaded", "path", path)

		d, err := daemon.New(daemon.Options{
			Config:     cfg,
			ConfigPath: path,
			Logger:     logger,
			LogOutput:  out,
			LevelVar:   lv,
		})
		if err != nil {
			out.Close()
			return err
		}
		return d.Run()
	},
}

func init() {
	daemonCmd.Flags().StringVarP(&daemonConfig, "config", "c", "", "config file (default: $CIRCBUF_CONFIG, ./circbuf.toml, /etc/circbuf/circbuf.toml)")
	daemonCmd.Flags().BoolVar(&daemonCheck, "check", false, "validate the config and exit")
	rootCmd.AddCommand(daemonCmd)
}
