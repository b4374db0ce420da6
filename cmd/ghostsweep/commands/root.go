// Package commands wires the ghostsweep CLI: scanning for hypervisor
// leftovers, running the cleanup workflow, and restoring from backup.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ghostsweep/ghostsweep/pkg/config"
	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
	"github.com/ghostsweep/ghostsweep/pkg/telemetry"
	"github.com/ghostsweep/ghostsweep/pkg/transports/ssh"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	backupDir   string
	logDir      string
	metricsFile string

	// Remote target flags
	remoteHost       string
	remotePort       int
	remoteUser       string
	remoteKeyPath    string
	remotePassword   string
	remoteKnownHosts string
	remoteInsecure   bool
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ghostsweep",
		Short: "Clean up hypervisor leftovers after a VM migration",
		Long: `ghostsweep removes the traces a source hypervisor leaves behind on a
guest migrated to a new platform: ghost devices, stale driver packages,
guest tools, and broken network state.

The workflow scans first, asks for confirmation, backs up everything it
is about to change, and only then mutates the system. Every run can be
replayed from its backup.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "backup directory (default: <data dir>/backups)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "log directory (default: stderr only)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write run metrics to this textfile-collector path")

	rootCmd.PersistentFlags().StringVar(&remoteHost, "remote-host", "", "clean a remote Linux guest over SSH instead of this machine")
	rootCmd.PersistentFlags().IntVar(&remotePort, "remote-port", 22, "SSH port of the remote guest")
	rootCmd.PersistentFlags().StringVar(&remoteUser, "remote-user", "root", "SSH user for the remote guest")
	rootCmd.PersistentFlags().StringVar(&remoteKeyPath, "remote-key", "", "SSH private key for the remote guest")
	rootCmd.PersistentFlags().StringVar(&remotePassword, "remote-password", "", "SSH password for the remote guest")
	rootCmd.PersistentFlags().StringVar(&remoteKnownHosts, "remote-known-hosts", defaultKnownHosts(), "known_hosts file for host key verification")
	rootCmd.PersistentFlags().BoolVar(&remoteInsecure, "remote-insecure", false, "skip SSH host key verification")

	rootCmd.AddCommand(newScanCommand())
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newFlushDNSCommand())
	rootCmd.AddCommand(newResetNetworkCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newBackupsCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}

// appEnv bundles the collaborators every command needs.
type appEnv struct {
	cfg     *config.Config
	logger  zerolog.Logger
	manager *sysmgmt.Manager
	closer  io.Closer
	remote  bool

	// ssh is set in remote mode so backups can pull the guest's
	// network configuration files.
	ssh *ssh.Client
}

// setup loads configuration, builds the logger and connects the
// platform manager, local or remote. needElevation is asserted before
// any mutating command proceeds; read-only commands skip the check.
func setup(ctx context.Context, needElevation bool) (*appEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &ExitError{Code: 1, Message: err.Error()}
	}
	if backupDir != "" {
		cfg.BackupDir = backupDir
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, &ExitError{Code: 1, Message: err.Error()}
	}

	env := &appEnv{cfg: cfg, logger: logger}
	if remoteHost != "" {
		client, err := ssh.Dial(&ssh.Config{
			Host:                  remoteHost,
			Port:                  remotePort,
			User:                  remoteUser,
			PrivateKeyPath:        remoteKeyPath,
			Password:              remotePassword,
			KnownHostsPath:        remoteKnownHosts,
			InsecureIgnoreHostKey: remoteInsecure,
		}, logger)
		if err != nil {
			return nil, &ExitError{Code: 1, Message: err.Error()}
		}
		env.closer = client
		env.remote = true
		env.ssh = client
		// Remote targets are Linux guests reached over SSH.
		env.manager, err = sysmgmt.NewManager("linux", client)
		if err != nil {
			_ = client.Close()
			return nil, &ExitError{Code: 1, Message: err.Error()}
		}
		return env, nil
	}

	platform, err := sysmgmt.DetectPlatform()
	if err != nil {
		return nil, &ExitError{Code: 1, Message: err.Error()}
	}
	runner := sysmgmt.NewLocalRunner(logger)
	if needElevation && !sysmgmt.IsElevated(ctx, platform, runner) {
		return nil, &ExitError{Code: 1, Message: "ghostsweep needs administrative privileges; run elevated"}
	}

	env.manager, err = sysmgmt.NewManager(platform, runner)
	if err != nil {
		return nil, &ExitError{Code: 1, Message: err.Error()}
	}
	return env, nil
}

func (e *appEnv) Close() {
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

func buildLogger(cfg *config.Config) (zerolog.Logger, error) {
	logCfg := telemetry.DefaultLoggingConfig()
	if verbose {
		logCfg.Level = "debug"
	}
	if jsonOutput {
		// Keep stdout clean for the JSON report.
		logCfg.Format = "json"
	}
	if cfg.LogDir != "" {
		// One log file per invocation, named by start time.
		logCfg.Format = "json"
		logCfg.Output = filepath.Join(cfg.LogDir, "ghostsweep-"+time.Now().Format("20060102-150405")+".log")
	}
	return telemetry.NewLogger(logCfg)
}

// dataDir is where backups and run history live by default.
func dataDir() string {
	if dir := os.Getenv("GHOSTSWEEP_HOME"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			return filepath.Join(pd, "ghostsweep")
		}
		return `C:\ProgramData\ghostsweep`
	}
	return "/var/lib/ghostsweep"
}

func resolveBackupDir(cfg *config.Config) string {
	if cfg.BackupDir != "" {
		return cfg.BackupDir
	}
	return filepath.Join(dataDir(), "backups")
}

func historyPath() string {
	return filepath.Join(dataDir(), "history.db")
}

func defaultKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}
