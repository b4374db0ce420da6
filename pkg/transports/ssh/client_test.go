package ssh

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "missing host",
			config:  Config{User: "root", Password: "x", InsecureIgnoreHostKey: true},
			wantErr: true,
		},
		{
			name:    "missing auth",
			config:  Config{Host: "10.0.0.5", User: "root", InsecureIgnoreHostKey: true},
			wantErr: true,
		},
		{
			name:    "no host key verification without known_hosts",
			config:  Config{Host: "10.0.0.5", User: "root", Password: "x"},
			wantErr: true,
		},
		{
			name:   "password with insecure host key",
			config: Config{Host: "10.0.0.5", User: "root", Password: "x", InsecureIgnoreHostKey: true},
		},
		{
			name:   "key with known_hosts",
			config: Config{Host: "10.0.0.5", User: "root", PrivateKeyPath: "/root/.ssh/id_ed25519", KnownHostsPath: "/root/.ssh/known_hosts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	c := Config{Host: "10.0.0.5"}
	if got := c.Address(); got != "10.0.0.5:22" {
		t.Errorf("Address() = %q", got)
	}
	c.Port = 2222
	if got := c.Address(); got != "10.0.0.5:2222" {
		t.Errorf("Address() = %q", got)
	}
}

func TestBuildCommandLine(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args []string
		want string
	}{
		{"plain", "ip", []string{"-json", "addr", "show"}, "ip -json addr show"},
		{"spaces", "systemctl", []string{"restart", "systemd-networkd"}, "systemctl restart systemd-networkd"},
		{"quoted arg", "sh", []string{"-c", "echo hi"}, "sh -c 'echo hi'"},
		{"single quote in arg", "grep", []string{"it's"}, `grep 'it'\''s'`},
		{"empty arg", "cmd", []string{""}, "cmd ''"},
		{"shell metachars", "rm", []string{"/tmp/a;b"}, "rm '/tmp/a;b'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildCommandLine(tt.cmd, tt.args); got != tt.want {
				t.Errorf("buildCommandLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigTimeoutDefault(t *testing.T) {
	c := Config{Host: "h", User: "u", Password: "p", InsecureIgnoreHostKey: true}
	cc, err := c.clientConfig()
	if err != nil {
		t.Fatalf("clientConfig: %v", err)
	}
	if cc.Timeout != 15*time.Second {
		t.Errorf("default timeout = %s", cc.Timeout)
	}
	if len(cc.Auth) != 1 {
		t.Errorf("auth methods = %d", len(cc.Auth))
	}
}
