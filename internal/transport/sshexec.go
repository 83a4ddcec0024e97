// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"

	"github.com/sprigga/webpdtool/errors"
)

const defaultSSHPort = 22

// SSHOptions contains options used when connecting to an SSH server on a DUT.
type SSHOptions struct {
	// User is the username to use when connecting.
	User string
	// Host is the SSH server's hostname.
	Host string
	// Port is the SSH server's port; 22 when zero.
	Port int
	// Secret is the account password. If empty, KeyFile must be set.
	Secret string
	// KeyFile is an optional path to an unencrypted SSH private key.
	KeyFile string
	// ConnectTimeout contains a timeout for establishing the TCP connection.
	ConnectTimeout time.Duration
	// ConnectRetries contains the number of times to retry after a connection failure.
	ConnectRetries int
	// ConnectRetryInterval contains the minimum amount of time between connection
	// attempts. The time spent trying to connect counts against this interval.
	ConnectRetryInterval time.Duration
	// WarnFunc (if non-nil) is used to log non-fatal errors encountered while
	// connecting to the host.
	WarnFunc func(string)
}

// SSHConn executes commands on a DUT over SSH.
type SSHConn struct {
	cl *ssh.Client
}

// DialSSH establishes an SSH connection to the host described in o.
// Callers are responsible to call Close after using it.
func DialSSH(ctx context.Context, o *SSHOptions) (*SSHConn, error) {
	am, err := sshAuthMethods(o)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            o.User,
		Auth:            am,
		Timeout:         o.ConnectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	port := o.Port
	if port == 0 {
		port = defaultSSHPort
	}
	hostPort := net.JoinHostPort(o.Host, strconv.Itoa(port))

	for i := 0; ; i++ {
		start := time.Now()
		cl, err := connectSSH(ctx, hostPort, cfg)
		if err == nil {
			return &SSHConn{cl: cl}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i >= o.ConnectRetries {
			return nil, errors.Wrapf(ErrConnect, "ssh %s: %v", hostPort, err)
		}

		if remaining := o.ConnectRetryInterval - time.Since(start); remaining > 0 {
			if o.WarnFunc != nil {
				o.WarnFunc("Retrying SSH connection in " + remaining.Round(time.Millisecond).String() + ": " + err.Error())
			}
			select {
			case <-time.After(remaining):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else if o.WarnFunc != nil {
			o.WarnFunc("Retrying SSH connection: " + err.Error())
		}
	}
}

func sshAuthMethods(o *SSHOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if o.KeyFile != "" {
		k, err := os.ReadFile(o.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read private key %s", o.KeyFile)
		}
		s, err := ssh.ParsePrivateKey(k)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse private key %s", o.KeyFile)
		}
		methods = append(methods, ssh.PublicKeys(s))
	}
	if o.Secret != "" {
		methods = append(methods, ssh.Password(o.Secret))
	}
	if len(methods) == 0 {
		return nil, errors.New("no SSH auth method: set secret or key_file")
	}
	return methods, nil
}

// connectSSH attempts to synchronously connect to hostPort as directed by cfg.
// The dial goes through any proxy configured in the environment.
func connectSSH(ctx context.Context, hostPort string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		cl  *ssh.Client
		err error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := proxy.FromEnvironment().Dial("tcp", hostPort)
		if err != nil {
			ch <- result{nil, err}
			return
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, hostPort, cfg)
		if err != nil {
			conn.Close()
			ch <- result{nil, err}
			return
		}
		ch <- result{ssh.NewClient(c, chans, reqs), nil}
	}()

	select {
	case r := <-ch:
		return r.cl, r.err
	case <-ctx.Done():
		// The dial goroutine closes its connection when it finishes.
		go func() {
			if r := <-ch; r.cl != nil {
				r.cl.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Exec runs cmd on the remote host and returns its combined output. The
// session is torn down if ctx is canceled while the command runs.
func (c *SSHConn) Exec(ctx context.Context, cmd string) (string, error) {
	sess, err := c.cl.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "failed to open SSH session")
	}
	defer sess.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Close() // unblocks CombinedOutput
		case <-done:
		}
	}()

	out, err := sess.CombinedOutput(cmd)
	if ctx.Err() != nil {
		return "", errors.Wrap(ErrTimeout, "SSH command interrupted")
	}
	if err != nil {
		// Command-level failures still carry useful output; surface both.
		return string(out), errors.Wrapf(err, "remote command failed: %s", cmd)
	}
	return string(out), nil
}

// Close closes the SSH connection.
func (c *SSHConn) Close() error {
	return c.cl.Close()
}
