package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/model"
	"golang.org/x/crypto/ssh"
)

func init() {
	Register("cli", cliFactory{})
}

// cliFactory builds SSH command-line drivers.

type cliFactory struct{}

func (cliFactory) FromPullingRequest(req model.PullingRequest) (Driver, error) {
	return newCLIDriver(req.ConnectionArgs, req.EnableMode, false), nil
}

func (cliFactory) FromPushingRequest(req model.PushingRequest) (Driver, error) {
	return newCLIDriver(req.ConnectionArgs, req.EnableMode, req.Save), nil
}

// CLIDriver executes device commands over SSH. Sessions are plain SSH
// connections; each command runs in its own exec channel while the
// connection itself persists across jobs on a pinned worker.

type CLIDriver struct {
	connArgs model.ConnectionArgs
	enabled  bool
	save     bool
}

func newCLIDriver(connArgs model.ConnectionArgs, enabled, save bool) *CLIDriver {
	return &CLIDriver{connArgs: connArgs, enabled: enabled, save: save}
}

func (d *CLIDriver) Connect(ctx context.Context) (Session, error) {
	port := d.connArgs.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(d.connArgs.Host, fmt.Sprintf("%d", port))

	cfg := &ssh.ClientConfig{
		User: d.connArgs.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(d.connArgs.Password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = d.connArgs.Password
				}
				return answers, nil
			}),
		},
		// device fleets rotate keys; verification is a deployment concern
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	slog.Default().InfoContext(ctx, "driver.connect", "host", d.connArgs.Host, "port", port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDriver, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake %s: %v", ErrDriver, addr, err)
	}

	return &cliSession{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func (d *CLIDriver) Send(ctx context.Context, session Session, commands []string) (map[string]string, error) {
	s, err := asCLISession(session)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(commands))
	for _, cmd := range commands {
		out, err := s.run(ctx, d.wrapEnable(cmd))
		if err != nil {
			return nil, fmt.Errorf("%w: send %q: %v", ErrDriver, cmd, err)
		}
		result[cmd] = out
	}

	return result, nil
}

func (d *CLIDriver) Config(ctx context.Context, session Session, statements []string) ([]string, error) {
	s, err := asCLISession(session)
	if err != nil {
		return nil, err
	}

	out, err := s.run(ctx, d.wrapEnable(strings.Join(statements, "\n")))
	if err != nil {
		return nil, fmt.Errorf("%w: config set: %v", ErrDriver, err)
	}
	response := []string{out}

	// some platforms have no commit; the running config is already
	// updated there
	if commitOut, err := s.run(ctx, "commit"); err == nil {
		response = append(response, commitOut)
	}

	if d.save {
		saveOut, err := s.run(ctx, "save")
		if err != nil {
			return nil, fmt.Errorf("%w: save config: %v", ErrDriver, err)
		}
		response = append(response, saveOut)
	}

	return response, nil
}

func (d *CLIDriver) Disconnect(session Session, reset bool) error {
	// without reset the session stays open for the next job
	if !reset {
		return nil
	}
	return session.Close()
}

func (d *CLIDriver) wrapEnable(cmd string) string {
	if !d.enabled {
		return cmd
	}
	return "enable\n" + cmd + "\nexit"
}

type cliSession struct {
	client *ssh.Client
}

func (s *cliSession) run(ctx context.Context, cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := sess.CombinedOutput(cmd)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return string(r.out), r.err
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	}
}

func (s *cliSession) IsAlive() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *cliSession) DrainBuffer() (string, error) {
	// exec-channel transport holds no pending input between commands
	return "", nil
}

func (s *cliSession) WriteKeepalive() error {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

func (s *cliSession) Close() error {
	return s.client.Close()
}

func asCLISession(session Session) (*cliSession, error) {
	s, ok := session.(*cliSession)
	if !ok {
		return nil, fmt.Errorf("%w: session is not a cli session", ErrDriver)
	}
	return s, nil
}
