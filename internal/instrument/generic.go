// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/testingutil"
	"github.com/sprigga/webpdtool/internal/transport"
	"github.com/sprigga/webpdtool/shutil"
)

// Generic command channels execute a user-supplied command string against
// the DUT and return the raw response, optionally sliced down by the
// keyword/split extraction parameters.
const (
	typeComPort    = "ComPort"
	typeTCPIP      = "TCPIP"
	typeConsole    = "Console"
	typeSSH        = "SSH"
	typeSSHComPort = "SSH+ComPort"
)

func init() {
	for _, typ := range []string{typeComPort, typeTCPIP, typeConsole, typeSSH, typeSSHComPort} {
		t := typ
		Register(t, func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
			return newCommandChannel(ctx, t, cfg, sim)
		})
		RegisterSchema(t, "CommandTest", &Schema{
			Required: []string{"instrument", "command"},
			Optional: []string{"keyword", "split_count", "split_length", "args", "sim_response"},
			Example:  `instrument: DUT_1, command: "ver\n", keyword: "version:"`,
		})
	}
}

// CommandChannel is the shared driver behind the ComPort, TCPIP, Console,
// SSH and SSH+ComPort instrument types.
type CommandChannel struct {
	typ    string
	sim    bool
	conn   transport.Conn     // serial or TCP stream
	ssh    *transport.SSHConn // SSH variants
	device string             // remote serial device for SSH+ComPort
}

func newCommandChannel(ctx context.Context, typ string, cfg *config.InstrumentConfig, sim bool) (*CommandChannel, error) {
	d := &CommandChannel{typ: typ, sim: sim}
	if sim {
		return d, nil
	}
	cc := &cfg.Connection
	switch typ {
	case typeComPort, typeConsole, typeTCPIP:
		conn, err := openConn(ctx, cc)
		if err != nil {
			return nil, err
		}
		d.conn = conn
	case typeSSH, typeSSHComPort:
		ssh, err := transport.DialSSH(ctx, &transport.SSHOptions{
			User:           cc.User,
			Host:           cc.Host,
			Port:           cc.Port,
			Secret:         cc.Secret,
			KeyFile:        cc.KeyFile,
			ConnectTimeout: connTimeout(cc),
		})
		if err != nil {
			return nil, err
		}
		d.ssh = ssh
		d.device = cc.Device
	}
	return d, nil
}

func (d *CommandChannel) Initialize(ctx context.Context) error { return nil }
func (d *CommandChannel) Reset(ctx context.Context) error      { return nil }

// RetrySafe is false: DUT commands may mutate device state.
func (d *CommandChannel) RetrySafe() bool { return false }

func (d *CommandChannel) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	if d.ssh != nil {
		return d.ssh.Close()
	}
	return nil
}

func (d *CommandChannel) ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error) {
	if err := ValidateParams(d.typ, command, params); err != nil {
		return "", err
	}
	raw, _ := params.String("command")
	cmd := unescapeCommand(raw)
	if args, ok := params.Strings("args"); ok && len(args) > 0 {
		cmd = strings.TrimRight(cmd, "\r\n") + " " + shutil.EscapeSlice(args)
	}

	resp, err := d.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return extractResponse(resp, params)
}

func (d *CommandChannel) run(ctx context.Context, cmd string) (string, error) {
	if d.sim {
		return "OK", nil
	}
	switch d.typ {
	case typeComPort, typeConsole, typeTCPIP:
		if !strings.HasSuffix(cmd, "\n") && !strings.HasSuffix(cmd, "\r") {
			cmd += "\n"
		}
		if _, err := d.conn.Write([]byte(cmd)); err != nil {
			return "", errors.Wrapf(err, "failed to send command over %s", d.typ)
		}
		return transport.ReadLine(ctx, d.conn)
	case typeSSH:
		return d.ssh.Exec(ctx, cmd)
	case typeSSHComPort:
		// Drive the remote serial device through the SSH session. The
		// response is whatever the device prints on its next line.
		remote := fmt.Sprintf("printf %s > %s && timeout 2 head -n 1 %s",
			shutil.Escape(cmd), shutil.Escape(d.device), shutil.Escape(d.device))
		return d.ssh.Exec(ctx, remote)
	}
	return "", errors.Errorf("unknown command channel type %q", d.typ)
}

// unescapeCommand honors the \n, \r and \t escapes plan authors use to embed
// terminators in command strings.
func unescapeCommand(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t")
	return r.Replace(s)
}

// extractResponse applies the optional keyword/split extraction:
// keyword keeps the text after the keyword's first occurrence, split_count
// picks the n-th whitespace-separated field (0-based), split_length keeps
// the leading n characters.
func extractResponse(resp string, params plan.Params) (string, error) {
	out := strings.TrimRight(resp, "\r\n")
	if kw, ok := params.String("keyword"); ok && kw != "" {
		idx := strings.Index(out, kw)
		if idx < 0 {
			return "", errors.Errorf("keyword %q not found in response %q", kw, out)
		}
		out = strings.TrimSpace(out[idx+len(kw):])
	}
	if n, ok := params.Int("split_count"); ok {
		fields := strings.Fields(out)
		if n < 0 || n >= len(fields) {
			return "", errors.Errorf("split_count %d out of range for %d fields", n, len(fields))
		}
		out = fields[n]
	}
	if n, ok := params.Int("split_length"); ok {
		if n < 0 {
			return "", errors.Wrap(ErrBadParameter, "split_length must be non-negative")
		}
		if n < len(out) {
			out = out[:n]
		}
	}
	return out, nil
}

// Wait validates and performs a plan-level sleep, reporting the elapsed
// milliseconds. It lives here so its bounds sit next to the other parameter
// contracts; the dispatcher calls it without an instrument lease.
func Wait(ctx context.Context, waitMS int) (string, error) {
	const maxWaitMS = 3_600_000
	if waitMS < 0 || waitMS > maxWaitMS {
		return "", errors.Wrapf(ErrBadParameter, "wait_ms %d out of range [0, %d]", waitMS, maxWaitMS)
	}
	start := time.Now()
	if err := testingutil.Sleep(ctx, time.Duration(waitMS)*time.Millisecond); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", time.Since(start).Milliseconds()), nil
}
