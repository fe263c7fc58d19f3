package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at release time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	onceFlags := &OnceFlags{}
	checkFlags := &CheckFlags{}
	statusFlags := &StatusFlags{}
	clientFlags := &ClientFlags{}
	templateFlags := &TemplateCreateFlags{}

	idlewatchCommand := command{version: version}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(idlewatchCommand, globalFlags, runFlags),
		createOnceCommand(idlewatchCommand, globalFlags, onceFlags),
		createCheckCommand(idlewatchCommand, globalFlags, checkFlags),
		createStatusCommand(idlewatchCommand, statusFlags),
		createPauseCommand(idlewatchCommand, clientFlags),
		createResumeCommand(idlewatchCommand, clientFlags),
		createInstallCommand(idlewatchCommand, globalFlags),
		createUninstallCommand(idlewatchCommand, globalFlags),
		createTemplateCommand(idlewatchCommand, templateFlags),
		createVersionCommand(idlewatchCommand),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "idlewatch",
		Short: "Idle-triggered supervisor for background compute workers",
		Long: `Idlewatch starts heavy background workers (GIMPS clients such as GpuOwl,
CUDALucas or Mlucas) once every login session on the machine has been idle
past a threshold, and interrupts them the moment someone comes back.

Examples:
  idlewatch run --config config.toml       # Resident daemon
  idlewatch once --config config.toml      # Single cycle (cron mode)
  idlewatch install --config config.toml   # Put the cycle in the crontab
  idlewatch check                          # Is the machine idle right now?
  idlewatch status                         # Ask the running daemon
  idlewatch template --type=gpuowl         # Starter configuration`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")

	return root
}

// configPathFrom resolves the config path from the persistent flag or a
// positional argument, the argument winning.
func configPathFrom(flags *GlobalFlags, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flags.ConfigPath
}

// createRunCommand creates the run subcommand
func createRunCommand(idlewatchCommand command, globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Run the supervision loop as a resident daemon",
		Long: `Run the idle-check cycle on the configured period until interrupted.
Workers launched by the cycle are detached and survive the daemon's exit.

Examples:
  idlewatch run --config config.toml
  idlewatch run config.toml
  idlewatch run --config config.toml --daemon   # Detach into the background`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Run(configPathFrom(globalFlags, args), RunFlags{
				Daemon:  runFlags.Daemon,
				PidFile: runFlags.PidFile,
				LogFile: runFlags.LogFile,
			})
		},
	}

	cmd.Flags().BoolVar(&runFlags.Daemon, "daemon", false, "detach and run in the background")
	cmd.Flags().StringVar(&runFlags.PidFile, "pidfile", "", "write the daemon PID here (default: [server].pidfile)")
	cmd.Flags().StringVar(&runFlags.LogFile, "logfile", "", "redirect daemon output to this file")

	return cmd
}

// createOnceCommand creates the once subcommand
func createOnceCommand(idlewatchCommand command, globalFlags *GlobalFlags, onceFlags *OnceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once [config.toml]",
		Short: "Run a single supervision cycle and exit",
		Long: `Run one idle-check cycle: measure session idleness, start or interrupt
workers accordingly, then exit. A file lock keeps overlapping invocations
(e.g. a slow cycle under a one-minute crontab) from running concurrently;
a held lock is a silent skip, not an error.

Examples:
  idlewatch once --config config.toml
  idlewatch once --config config.toml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Once(configPathFrom(globalFlags, args), OnceFlags{
				JSON: onceFlags.JSON,
			})
		},
	}

	cmd.Flags().BoolVar(&onceFlags.JSON, "json", false, "print the verdict as JSON")

	return cmd
}

// createCheckCommand creates the check subcommand
func createCheckCommand(idlewatchCommand command, globalFlags *GlobalFlags, checkFlags *CheckFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [config.toml]",
		Short: "Evaluate idleness without touching any worker",
		Long: `Read the current login sessions and print the idle verdict. Purely
read-only: no worker is started or stopped. Without a config file the
default threshold of 600 seconds applies.

Examples:
  idlewatch check
  idlewatch check --idle-seconds 300
  idlewatch check --config config.toml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Check(configPathFrom(globalFlags, args), CheckFlags{
				IdleSeconds: checkFlags.IdleSeconds,
				JSON:        checkFlags.JSON,
			})
		},
	}

	cmd.Flags().Float64Var(&checkFlags.IdleSeconds, "idle-seconds", 0, "override the idle threshold in seconds")
	cmd.Flags().BoolVar(&checkFlags.JSON, "json", false, "print the verdict and sessions as JSON")

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(idlewatchCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's verdict and worker states",
		Long: `Query a running idlewatch daemon over its HTTP API.

Examples:
  idlewatch status
  idlewatch status --name=gpuowl
  idlewatch status --json
  idlewatch status --api-url=http://remote:8080/idlewatch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Status(StatusFlags{
				Name:       statusFlags.Name,
				JSON:       statusFlags.JSON,
				APIUrl:     statusFlags.APIUrl,
				APITimeout: statusFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&statusFlags.Name, "name", "", "show a single worker")
	cmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "print the raw API response")
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/idlewatch)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createPauseCommand creates the pause subcommand
func createPauseCommand(idlewatchCommand command, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Hold idle-gated workers stopped until resume",
		Long: `Tell the running daemon to treat the machine as busy regardless of
session idleness. Idle-gated workers are stopped immediately and stay
stopped; always-run workers are unaffected.

Examples:
  idlewatch pause
  idlewatch pause --api-url=http://remote:8080/idlewatch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Pause(ClientFlags{
				APIUrl:     clientFlags.APIUrl,
				APITimeout: clientFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&clientFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/idlewatch)")
	cmd.Flags().DurationVar(&clientFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createResumeCommand creates the resume subcommand
func createResumeCommand(idlewatchCommand command, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Lift a pause and return to idle-gated supervision",
		Long: `Tell the running daemon to resume normal supervision. If the machine is
idle the workers come back within the same cycle.

Examples:
  idlewatch resume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Resume(ClientFlags{
				APIUrl:     clientFlags.APIUrl,
				APITimeout: clientFlags.APITimeout,
			})
		},
	}

	cmd.Flags().StringVar(&clientFlags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/idlewatch)")
	cmd.Flags().DurationVar(&clientFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createInstallCommand creates the install subcommand
func createInstallCommand(idlewatchCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "install [config.toml]",
		Short: "Install the cycle into the user crontab",
		Long: `Add a marker-tagged crontab line that runs 'idlewatch once' on the
configured schedule. Installing twice is a no-op; hand-written crontab
entries are never touched.

Examples:
  idlewatch install --config /etc/idlewatch/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Install(configPathFrom(globalFlags, args))
		},
	}
}

// createUninstallCommand creates the uninstall subcommand
func createUninstallCommand(idlewatchCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall [config.toml]",
		Short: "Remove the cycle from the user crontab",
		Long: `Remove every crontab line carrying the configured marker. Removing an
absent entry is a no-op. Workers already running are not touched.

Examples:
  idlewatch uninstall --config /etc/idlewatch/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.Uninstall(configPathFrom(globalFlags, args))
		},
	}
}

// createTemplateCommand creates the template subcommand
func createTemplateCommand(idlewatchCommand command, templateFlags *TemplateCreateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write a starter configuration for a worker program",
		Long: `Write a ready-to-edit TOML configuration for one of the common
Mersenne-testing worker programs.

Supported template types:
  gpuowl     - GpuOwl GPU worker plus the PrimeNet helper
  cudalucas  - CUDALucas GPU worker plus the PrimeNet helper
  mlucas     - Mlucas CPU worker plus the PrimeNet helper
  primenet   - the always-run PrimeNet reporting client alone
  minimal    - smallest possible single-worker config
  full       - every section spelled out

Examples:
  idlewatch template --type=gpuowl
  idlewatch template --type=mlucas --name=rig2 --output=/etc/idlewatch/config.toml
  idlewatch template --type=full --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return idlewatchCommand.TemplateCreate(TemplateCreateFlags{
				Type:   templateFlags.Type,
				Name:   templateFlags.Name,
				Output: templateFlags.Output,
				Force:  templateFlags.Force,
			})
		},
	}

	cmd.Flags().StringVar(&templateFlags.Type, "type", "", "template type (required): gpuowl, cudalucas, mlucas, primenet, minimal, full")
	cmd.Flags().StringVar(&templateFlags.Name, "name", "", "worker name inside the template (defaults per type)")
	cmd.Flags().StringVar(&templateFlags.Output, "output", "", "output file path (defaults to <type>.toml)")
	cmd.Flags().BoolVar(&templateFlags.Force, "force", false, "overwrite an existing file")

	if err := cmd.MarkFlagRequired("type"); err != nil {
		panic(err)
	}

	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand(idlewatchCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the idlewatch version",
		Run: func(cmd *cobra.Command, args []string) {
			idlewatchCommand.Version()
		},
	}
}
