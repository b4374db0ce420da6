// Package ssh runs cleanup commands on a remote Linux guest over SSH
// and fetches its configuration files for backup. Remote mode exists
// for fleets where the migrated guests have no agent installed.
package ssh

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds the SSH connection settings.
type Config struct {
	// Host is the remote address.
	Host string

	// Port defaults to 22.
	Port int

	// User is the login user.
	User string

	// PrivateKeyPath authenticates with a key file when set.
	PrivateKeyPath string

	// Password authenticates with a password when no key is set.
	Password string

	// KnownHostsPath verifies the host key against a known_hosts file.
	KnownHostsPath string

	// InsecureIgnoreHostKey skips host key verification. Lab use only.
	InsecureIgnoreHostKey bool

	// ConnectTimeout bounds the TCP and handshake phase.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each remote command.
	CommandTimeout time.Duration
}

// Validate checks the configuration for the fields a connection needs.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKeyPath == "" && c.Password == "" {
		return fmt.Errorf("either a private key or a password is required")
	}
	if !c.InsecureIgnoreHostKey && c.KnownHostsPath == "" {
		return fmt.Errorf("known_hosts path is required unless host key checking is disabled")
	}
	return nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// clientConfig builds the ssh.ClientConfig.
func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.PrivateKeyPath != "" {
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	} else {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
	}

	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}
