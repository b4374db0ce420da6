package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

// Client executes commands on a remote host. It satisfies the command
// runner the platform managers are built on, so a remote Linux guest
// is cleaned through the same code path as the local machine.
type Client struct {
	config *Config
	conn   *ssh.Client
	logger zerolog.Logger
}

// Dial connects to the remote host.
func Dial(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	clientConfig, err := config.clientConfig()
	if err != nil {
		return nil, err
	}

	conn, err := ssh.Dial("tcp", config.Address(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", config.Address(), err)
	}
	logger = logger.With().Str("component", "ssh").Str("host", config.Host).Logger()
	logger.Debug().Msg("connected")
	return &Client{config: config, conn: conn, logger: logger}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run executes name with args on the remote host.
func (c *Client) Run(ctx context.Context, name string, args ...string) sysmgmt.Result {
	return c.run(ctx, "", name, args...)
}

// RunInput executes name with args, feeding stdin to the remote
// process.
func (c *Client) RunInput(ctx context.Context, stdin string, name string, args ...string) sysmgmt.Result {
	return c.run(ctx, stdin, name, args...)
}

func (c *Client) run(ctx context.Context, stdin string, name string, args ...string) sysmgmt.Result {
	if timeout := c.config.CommandTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return sysmgmt.Result{ExitCode: -1, Err: fmt.Errorf("opening session: %w", err)}
	}
	defer session.Close()

	cmd := buildCommandLine(name, args)
	c.logger.Debug().Str("cmd", cmd).Msg("running remote command")

	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	done := make(chan error, 1)
	if err := session.Start(cmd); err != nil {
		return sysmgmt.Result{ExitCode: -1, Err: fmt.Errorf("starting remote command: %w", err)}
	}
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		<-done
		return sysmgmt.Result{ExitCode: -1, Output: output.String(), Err: ctx.Err()}
	case err := <-done:
		res := sysmgmt.Result{Output: output.String()}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
			} else {
				res.ExitCode = -1
				res.Err = err
			}
		}
		return res
	}
}

// FetchFile downloads one remote file into localDir, preserving the
// base name. Missing remote files are not an error; the backup just
// records what exists.
func (c *Client) FetchFile(ctx context.Context, remotePath, localDir string) error {
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return fmt.Errorf("starting sftp: %w", err)
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Debug().Str("path", remotePath).Msg("remote file absent, skipping")
			return nil
		}
		return fmt.Errorf("opening remote %s: %w", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", localDir, err)
	}
	dst, err := os.Create(filepath.Join(localDir, filepath.Base(remotePath)))
	if err != nil {
		return fmt.Errorf("creating local copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying %s: %w", remotePath, err)
	}
	return nil
}

// FetchNetworkConfig pulls the usual Linux network configuration
// files into localDir so a stack reset stays reversible.
func (c *Client) FetchNetworkConfig(ctx context.Context, localDir string) error {
	paths := []string{
		"/etc/resolv.conf",
		"/etc/hosts",
		"/etc/network/interfaces",
	}
	for _, p := range paths {
		if err := c.FetchFile(ctx, p, localDir); err != nil {
			return err
		}
	}
	for _, dir := range []string{"/etc/netplan", "/etc/systemd/network"} {
		if err := c.fetchDir(dir, localDir); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) fetchDir(remoteDir, localDir string) error {
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return fmt.Errorf("starting sftp: %w", err)
	}
	defer client.Close()

	entries, err := client.ReadDir(remoteDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading remote %s: %w", remoteDir, err)
	}

	target := filepath.Join(localDir, filepath.Base(remoteDir))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src, err := client.Open(remoteDir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("opening remote %s: %w", entry.Name(), err)
		}
		dst, err := os.Create(filepath.Join(target, entry.Name()))
		if err != nil {
			src.Close()
			return fmt.Errorf("creating local copy: %w", err)
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return fmt.Errorf("copying %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// buildCommandLine quotes each argument for the remote shell.
func buildCommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WaitReady polls the remote host until a trivial command succeeds or
// the deadline passes. Useful right after the target hypervisor boots
// the guest.
func (c *Client) WaitReady(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	for {
		if res := c.Run(ctx, "true"); res.Ok() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("remote host not ready: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}
