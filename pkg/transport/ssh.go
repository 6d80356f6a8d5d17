package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// SSHConfig holds connection parameters for a remote target.
type SSHConfig struct {
	// Host is the target hostname or address.
	Host string

	// Port is the SSH port; defaults to 22.
	Port int

	// User is the login user.
	User string

	// PrivateKeyPath is the path to a PEM private key. Takes precedence
	// over Password when both are set.
	PrivateKeyPath string

	// Password enables password authentication.
	Password string

	// StrictHostKeyChecking rejects unknown host keys when true.
	StrictHostKeyChecking bool

	// KnownHostsCallback verifies host keys when strict checking is on.
	KnownHostsCallback ssh.HostKeyCallback

	// ConnectTimeout bounds connection establishment; defaults to 30s.
	ConnectTimeout time.Duration
}

// Validate checks the configuration for required fields.
func (c *SSHConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKeyPath == "" && c.Password == "" {
		return fmt.Errorf("either private key path or password is required")
	}
	if c.StrictHostKeyChecking && c.KnownHostsCallback == nil {
		return fmt.Errorf("strict host key checking requires a known hosts callback")
	}
	return nil
}

// Address returns the dialable host:port string.
func (c *SSHConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c *SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if c.PrivateKeyPath != "" {
		keyData, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}

	hostKeyCallback := c.KnownHostsCallback
	if !c.StrictHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via config
	}

	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// SSHRunner executes commands and file operations on a remote host over a
// single SSH connection, with file access via SFTP.
type SSHRunner struct {
	config *SSHConfig
	client *ssh.Client
	sftp   *sftp.Client
}

// NewSSHRunner connects to the configured host and returns a ready runner.
func NewSSHRunner(ctx context.Context, config *SSHConfig) (*SSHRunner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}

	clientConfig, err := config.clientConfig()
	if err != nil {
		return nil, err
	}

	address := config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", address, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}

	return &SSHRunner{
		config: config,
		client: client,
		sftp:   sftpClient,
	}, nil
}

// Name implements Runner.
func (r *SSHRunner) Name() string { return "ssh:" + r.config.Host }

// Run implements Runner.
func (r *SSHRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != nil {
		session.Stdin = bytes.NewReader(cmd.Stdin)
	}

	command := buildRemoteCommand(cmd)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("remote command failed: %w", err)
	}

	return result, nil
}

// ReadFile implements Runner.
func (r *SSHRunner) ReadFile(_ context.Context, filePath string) ([]byte, error) {
	f, err := r.sftp.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile implements Runner.
func (r *SSHRunner) WriteFile(_ context.Context, filePath string, data []byte, mode fs.FileMode) error {
	if err := r.sftp.MkdirAll(path.Dir(filePath)); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := r.sftp.Create(filePath)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return r.sftp.Chmod(filePath, mode)
}

// Stat implements Runner.
func (r *SSHRunner) Stat(_ context.Context, filePath string) (*FileInfo, error) {
	st, err := r.sftp.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileInfo{Exists: false}, nil
		}
		return nil, err
	}

	info := &FileInfo{
		Exists: true,
		Size:   st.Size(),
		Mode:   st.Mode().Perm(),
	}

	if fstat, ok := st.Sys().(*sftp.FileStat); ok {
		info.UID = int(fstat.UID)
		info.GID = int(fstat.GID)
	}

	if st.Mode().IsRegular() {
		f, err := r.sftp.Open(filePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return nil, err
		}
		info.SHA256 = fmt.Sprintf("%x", h.Sum(nil))
	}

	return info, nil
}

// Close implements Runner.
func (r *SSHRunner) Close() error {
	if r.sftp != nil {
		_ = r.sftp.Close()
	}
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// buildRemoteCommand quotes the argv into a single shell command line for
// the remote side. Single quotes are escaped per POSIX sh rules.
func buildRemoteCommand(cmd Command) string {
	var buf bytes.Buffer
	if cmd.Dir != "" {
		buf.WriteString("cd ")
		buf.WriteString(shellQuote(cmd.Dir))
		buf.WriteString(" && ")
	}
	for _, env := range cmd.Env {
		buf.WriteString(env)
		buf.WriteString(" ")
	}
	for i, arg := range cmd.Argv {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(shellQuote(arg))
	}
	return buf.String()
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !(c == '.' || c == '/' || c == '-' || c == '_' || c == '=' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	var buf bytes.Buffer
	buf.WriteByte('\'')
	for _, c := range s {
		if c == '\'' {
			buf.WriteString(`'\''`)
			continue
		}
		buf.WriteRune(c)
	}
	buf.WriteByte('\'')
	return buf.String()
}
