package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHExec runs commands over an established SSH connection.
type SSHExec struct {
	client *ssh.Client
}

// Dial opens an SSH connection to addr (host:port) authenticated with the
// given PEM-encoded private key.
func Dial(addr, user string, keyPEM []byte) (*SSHExec, error) {
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Targets are freshly imaged hosts whose keys regenerate on first
		// boot, so there is no host key to pin before the first connection.
		// TODO: record the key seen during provisioning and verify it on
		// later dials.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	return &SSHExec{client: client}, nil
}

func (e *SSHExec) Run(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	session, err := e.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("ssh run %q: %w", command, err)
	}
	return res, nil
}

func (e *SSHExec) Close() error {
	return e.client.Close()
}
