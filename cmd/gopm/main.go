// Command gopm is the CLI client for the gopm process supervisor: every
// subcommand but daemon talks to the running daemon over its IPC socket
// (spec §6 "CLI surface (consumer of IPC client)").
package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/config"
	"github.com/gopm/gopm/internal/daemon"
	"github.com/gopm/gopm/internal/ipc"
	"github.com/gopm/gopm/internal/process"
)

func newClient() *ipc.Client {
	dirs := config.ResolveDirs()
	return ipc.NewClient(func() (net.Conn, error) { return daemon.Dial(dirs) })
}

func main() {
	root := &cobra.Command{Use: "gopm", SilenceUsage: true}
	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newRestartCmd("restart"),
		newRestartCmd("reload"),
		newDeleteCmd(),
		newListCmd(),
		newLogsCmd(),
		newShowCmd(),
		newHistoryCmd(),
		newMonitorCmd(),
		newDaemonCmd(),
		newKillCmd(),
		newSaveCmd(),
		newResurrectCmd(),
		newStatusCmd(),
	)
	if err := root.Execute(); err != nil {
		fail(err)
	}
}

func fail(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "✗ %v\n", err)
	os.Exit(1)
}

func parseEnv(kvs []string) ([]process.EnvVar, error) {
	out := make([]process.EnvVar, 0, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			return nil, apperr.New(apperr.KindConfiguration, fmt.Sprintf("invalid --env %q: expected KEY=VALUE", kv))
		}
		out = append(out, process.EnvVar{Key: kv[:i], Value: kv[i+1:]})
	}
	return out, nil
}

func newStartCmd() *cobra.Command {
	var (
		name        string
		cwd         string
		instances   int
		autorestart bool
		maxMemory   uint64
		envKVs      []string
	)
	cmd := &cobra.Command{
		Use:   "start <command>",
		Short: "Start a supervised process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnv(envKVs)
			if err != nil {
				return err
			}
			cfg := process.Config{
				Name:        name,
				Command:     strings.Join(args, " "),
				Cwd:         cwd,
				Instances:   instances,
				AutoRestart: autorestart,
				MaxMemoryMB: maxMemory,
				Env:         env,
			}
			id, err := newClient().StartProcess(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("started process with id: %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "process name (default: first token of the command)")
	cmd.Flags().StringVarP(&cwd, "cwd", "c", "", "working directory")
	cmd.Flags().IntVarP(&instances, "instances", "i", 1, "number of instances to fan out")
	cmd.Flags().BoolVar(&autorestart, "autorestart", true, "automatically restart on exit or error")
	cmd.Flags().Uint64Var(&maxMemory, "max-memory", 0, "soft RSS cap in MiB (0 disables)")
	cmd.Flags().StringArrayVar(&envKVs, "env", nil, "KEY=VALUE environment override (repeatable)")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a supervised process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().StopProcess(args[0])
		},
	}
}

func newRestartCmd(use string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: "Restart a supervised process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if use == "reload" {
				return newClient().ReloadProcess(args[0])
			}
			return newClient().RestartProcess(args[0])
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Stop and remove a supervised process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeleteProcess(args[0])
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every supervised process",
		RunE: func(cmd *cobra.Command, args []string) error {
			procs, err := newClient().ListProcesses()
			if err != nil {
				return err
			}
			printProcessTable(procs)
			return nil
		},
	}
}

func printProcessTable(procs []process.Info) {
	fmt.Printf("%-20s %-10s %-8s %8s %10s %10s\n", "NAME", "STATUS", "PID", "RESTARTS", "CPU%", "MEM(MB)")
	for _, p := range procs {
		fmt.Printf("%-20s %-10s %-8d %8d %10.1f %10d\n",
			p.Name, p.Status.String(), p.PID, p.Restarts, p.CPUUsage, p.MemoryUsage/1024/1024)
	}
}

func newLogsCmd() *cobra.Command {
	var lines int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Print the captured stdout/stderr of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			printOnce := func() error {
				out, err := client.GetLogs(args[0], lines)
				if err != nil {
					return err
				}
				for _, l := range out {
					fmt.Println(l)
				}
				return nil
			}
			if !follow {
				return printOnce()
			}
			for {
				if err := printOnce(); err != nil {
					return err
				}
				time.Sleep(2 * time.Second)
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "l", 20, "number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "re-print the last lines every 2s")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show detailed info for one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := newClient().GetProcessInfo(args[0])
			if err != nil {
				return err
			}
			printProcessTable([]process.Info{info})
			fmt.Printf("command: %s\n", info.Command)
			fmt.Printf("started_at: %s\n", info.StartedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <name>",
		Short: "Print the durable start/stop/restart event trail for a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := newClient().GetHistory(args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("no recorded events")
				return nil
			}
			for _, e := range events {
				if e.Detail != "" {
					fmt.Printf("%s  %-8s %s\n", e.OccurredAt.Format(time.RFC3339), e.Type, e.Detail)
				} else {
					fmt.Printf("%s  %-8s\n", e.OccurredAt.Format(time.RFC3339), e.Type)
				}
			}
			return nil
		},
	}
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Continuously poll and print process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			for {
				procs, err := client.ListProcesses()
				if err != nil {
					return err
				}
				printProcessTable(procs)
				time.Sleep(2 * time.Second)
			}
		},
	}
}

func newDaemonCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the gopm daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !foreground {
				return runDaemonBackground()
			}
			return runDaemonForeground()
		},
	}
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of detaching")
	return cmd
}

func runDaemonForeground() error {
	dirs := config.ResolveDirs()
	d, err := daemon.New(dirs, nil)
	if err != nil {
		return err
	}
	if err := d.Manager().ResurrectProcesses(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to resurrect persisted processes: %v\n", err)
	}
	return d.Run()
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Ask the daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().KillDaemon()
		},
	}
}

func newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Persist the current roster immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().SaveProcesses()
		},
	}
}

func newResurrectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resurrect",
		Short: "Reload and re-spawn the persisted roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().ResurrectProcesses()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report daemon reachability and process counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			procs, err := newClient().ListProcesses()
			if err != nil {
				fmt.Println("daemon: unreachable")
				return err
			}
			running := 0
			for _, p := range procs {
				if p.Status == process.StatusRunning {
					running++
				}
			}
			fmt.Printf("daemon: reachable\nprocesses: %d (running: %d)\n", len(procs), running)
			return nil
		},
	}
}
