package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/kahiteam/circbuf/internal/config"
	"github.com/kahiteam/circbuf/internal/ctl"
	"github.com/spf13/cobra"
)

var (
	ctlSocket string
	ctlAddr   string
	ctlUser   string
	ctlPass   string
	ctlJSON   bool
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running circbuf daemon",
	Long:  "Send commands to a running circbuf daemon via its API.",
}

func newCtlClient() *ctl.Client {
	if ctlAddr != "" {
		return ctl.NewTCPClient(ctlAddr, ctlUser, ctlPass)
	}
	sock := ctlSocket
	if sock == "" {
		sock = config.DefaultSocketPath
	}
	return ctl.NewUnixClient(sock)
}

func intArg(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, s)
	}
	return n, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var ctlStrict bool

var ctlCreateCmd = &cobra.Command{
	Use:   "create <name> <channels> <capacity>",
	Short: "Create or replace a buffer",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		channels, err := intArg("channels", args[1])
		if err != nil {
			return err
		}
		capacity, err := intArg("capacity", args[2])
		if err != nil {
			return err
		}
		info, err := newCtlClient().Create(args[0], channels, capacity, ctlStrict)
		if err != nil {
			return err
		}
		if ctlJSON {
			return printJSON(cmd, info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: created (%d channels x %d samples)\n",
			info.Name, info.Channels, info.Capacity)
		return nil
	},
}

var ctlDestroyCmd = &cobra.Command{
	Use:   "destroy <name...>",
	Short: "Destroy buffers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		var failed int
		for _, name := range args {
			if err := c.Destroy(name); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", name, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: destroyed\n", name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d buffers not destroyed", failed, len(args))
		}
		return nil
	},
}

var ctlAddCmd = &cobra.Command{
	Use:   "add <name> [sample...]",
	Short: "Append channel-interleaved samples (from args or stdin)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []float32
			err  error
		)
		if len(args) > 1 {
			data, err = ctl.ParseSamples(strings.NewReader(strings.Join(args[1:], " ")))
		} else {
			data, err = ctl.ParseSamples(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		return newCtlClient().Add(args[0], data)
	},
}

var (
	getChannel int
	getStart   int
)

var ctlGetCmd = &cobra.Command{
	Use:   "get <name> <count>",
	Short: "Read samples of one channel, oldest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := intArg("count", args[1])
		if err != nil {
			return err
		}
		data, err := newCtlClient().Get(args[0], count, getChannel, getStart)
		if err != nil {
			return err
		}
		if ctlJSON {
			return printJSON(cmd, data)
		}
		return ctl.WriteSamples(cmd.OutOrStdout(), data)
	},
}

var ctlRecentCmd = &cobra.Command{
	Use:   "recent <name> <count>",
	Short: "Read the most recent samples of every channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := intArg("count", args[1])
		if err != nil {
			return err
		}
		m, err := newCtlClient().GetMostRecent(args[0], count)
		if err != nil {
			return err
		}
		if ctlJSON {
			return printJSON(cmd, m)
		}
		return ctl.WriteMatrix(cmd.OutOrStdout(), m)
	},
}

var ctlResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Discard a buffer's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newCtlClient().Reset(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: reset\n", args[0])
		return nil
	},
}

var ctlInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show buffer details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newCtlClient().Info(args[0])
		if err != nil {
			return err
		}
		if ctlJSON {
			return printJSON(cmd, info)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "name:     %s\n", info.Name)
		fmt.Fprintf(w, "channels: %d\n", info.Channels)
		fmt.Fprintf(w, "capacity: %d\n", info.Capacity)
		fmt.Fprintf(w, "length:   %d\n", info.Length)
		fmt.Fprintf(w, "full:     %t\n", info.Full)
		fmt.Fprintf(w, "strict:   %t\n", info.Strict)
		fmt.Fprintf(w, "written:  %d\n", info.SamplesWritten)
		return nil
	},
}

var ctlListCmd = &cobra.Command{
	Use:   "list [name...]",
	Short: "List buffers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return newCtlClient().List(args, ctlJSON, cmd.OutOrStdout())
	},
}

var ctlExecCmd = &cobra.Command{
	Use:   "exec <command> [arg...]",
	Short: "Run a named buffer command",
	Long: "Run a named buffer command. Arguments that parse as JSON (numbers, arrays)\n" +
		"are sent as JSON values; anything else is sent as a string.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newCtlClient().Exec(args[0], execArgs(args[1:]))
		if err != nil {
			return err
		}
		if len(result) == 0 || string(result) == "null" {
			return nil
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(result))
		return err
	},
}

// execArgs converts command-line words to command arguments.
func execArgs(words []string) []any {
	args := make([]any, len(words))
	for i, w := range words {
		var v any
		d := json.NewDecoder(strings.NewReader(w))
		d.UseNumber()
		if err := d.Decode(&v); err == nil && !d.More() {
			if _, isString := v.(string); !isString {
				args[i] = v
				continue
			}
		}
		args[i] = w
	}
	return args
}

var ctlEventTypes []string

var ctlEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow the daemon event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		return newCtlClient().Events(ctx, ctlEventTypes, cmd.OutOrStdout())
	},
}

var ctlShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Initiate daemon shutdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newCtlClient().Shutdown(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "shutdown initiated")
		return nil
	},
}

var ctlReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload daemon configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newCtlClient().Reload()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config reloaded: added=%v changed=%v removed=%v\n",
			result.Added, result.Changed, result.Removed)
		return nil
	},
}

var ctlVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show remote daemon version",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newCtlClient().Version()
		if err != nil {
			return err
		}
		if ctlJSON {
			return printJSON(cmd, result)
		}
		for _, k := range []string{"version", "commit", "date", "go_version", "pid"} {
			if v, ok := result[k]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, v)
			}
		}
		return nil
	},
}

var ctlHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon liveness",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newCtlClient().Health()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(status))
		if status != "ok" {
			return fmt.Errorf("daemon is %s", status)
		}
		return nil
	},
}

var ctlReadyBuffers []string

var ctlReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Check daemon readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newCtlClient().Ready(ctlReadyBuffers)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(status))
		if status != "ready" {
			return fmt.Errorf("daemon is %s", status)
		}
		return nil
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVarP(&ctlSocket, "socket", "s", "", "Unix socket path")
	ctlCmd.PersistentFlags().StringVar(&ctlAddr, "addr", "", "TCP address (host:port)")
	ctlCmd.PersistentFlags().StringVarP(&ctlUser, "username", "u", "", "HTTP Basic Auth username")
	ctlCmd.PersistentFlags().StringVarP(&ctlPass, "password", "p", "", "HTTP Basic Auth password")
	ctlCmd.PersistentFlags().BoolVar(&ctlJSON, "json", false, "Output JSON")

	ctlCreateCmd.Flags().BoolVar(&ctlStrict, "strict", false, "Reject reads past the retained samples")
	ctlGetCmd.Flags().IntVar(&getChannel, "channel", 0, "Channel to read")
	ctlGetCmd.Flags().IntVar(&getStart, "start", 0, "Offset from the oldest retained sample")
	ctlEventsCmd.Flags().StringSliceVar(&ctlEventTypes, "type", nil, "Filter by event types")
	ctlReadyCmd.Flags().StringSliceVar(&ctlReadyBuffers, "buffer", nil, "Require these buffers to exist")

	ctlCmd.AddCommand(
		ctlCreateCmd, ctlDestroyCmd, ctlAddCmd, ctlGetCmd, ctlRecentCmd,
		ctlResetCmd, ctlInfoCmd, ctlListCmd, ctlExecCmd, ctlEventsCmd,
		ctlShutdownCmd, ctlReloadCmd, ctlVersionCmd, ctlHealthCmd, ctlReadyCmd,
	)
	rootCmd.AddCommand(ctlCmd)
}
