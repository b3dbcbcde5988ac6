// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemonclient implements the client side of the daemon wire
// protocol (§4.5): a fresh AF_UNIX SOCK_STREAM connection per call, with
// a retry policy around connect and ENOENT treated as "not yet running".
//
// Ground: original_source's zygiskd client helpers (PingHeartbeat,
// ReadNativeBridge, etc.), reworked onto cenkalti/backoff instead of a
// hand-rolled sleep loop.
package daemonclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
	"github.com/spawnwatch/spawnwatch/internal/wire"
	"github.com/spawnwatch/spawnwatch/internal/zerrors"
)

// Client dials one ABI's daemon socket fresh for every call.
type Client struct {
	SocketName string // abstract-namespace name, without the leading '@'
}

func New(socketName string) *Client {
	return &Client{SocketName: socketName}
}

// heartbeatRetries/defaultRetries implement "N=5 for heartbeat, 1
// otherwise" from §4.5's connect policy.
const (
	heartbeatRetries = 5
	defaultRetries   = 1
)

func (c *Client) dial(retries int) (*net.UnixConn, error) {
	var conn *net.UnixConn
	op := func() error {
		d, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: "@" + c.SocketName, Net: "unix"})
		if err != nil {
			return err
		}
		conn = d
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), uint64(retries))
	if err := backoff.Retry(op, b); err != nil {
		return nil, zerrors.New(zerrors.KindDaemonUnavailable, "dial", 0, err)
	}
	return conn, nil
}

// isENOENT reports whether err is (or wraps) a connect failure because
// the abstract socket doesn't exist yet — "daemon not yet running".
func isENOENT(err error) bool {
	var errno unix.Errno
	for e := err; e != nil; {
		if eno, ok := e.(unix.Errno); ok {
			errno = eno
			break
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}
	return errno == unix.ENOENT
}

// PingHeartbeat connects and immediately disconnects; success means the
// daemon is alive. Retries up to heartbeatRetries times.
func (c *Client) PingHeartbeat(ctx context.Context) error {
	conn, err := c.dial(heartbeatRetries)
	if err != nil {
		return err
	}
	defer conn.Close()
	return wire.WriteOpcode(conn, model.OpPingHeartbeat)
}

// RequestLogcatFd requests a duplicate of the daemon's broadcast
// connection and returns the open *net.UnixConn the caller should keep
// reading (priority, tag, message) frames from.
func (c *Client) RequestLogcatFd(ctx context.Context) (*net.UnixConn, error) {
	conn, err := c.dial(defaultRetries)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteOpcode(conn, model.OpRequestLogcatFd); err != nil {
		conn.Close()
		return nil, err
	}
	fd, err := wire.RecvFD(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	unix.Close(fd) // the caller keeps using conn itself; fd was a dup of it.
	return conn, nil
}

// GetProcessFlags asks the daemon for the specializing uid's policy
// flags.
func (c *Client) GetProcessFlags(ctx context.Context, uid uint32) (model.ProcessFlags, error) {
	conn, err := c.dial(defaultRetries)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := wire.WriteOpcode(conn, model.OpGetProcessFlags); err != nil {
		return 0, err
	}
	if err := wire.WriteUint32(conn, uid); err != nil {
		return 0, err
	}
	v, err := wire.ReadUint32(conn)
	if err != nil {
		return 0, err
	}
	return model.ProcessFlags(v), nil
}

// ModulePayload is one (name, fd) pair returned by ReadModules; Fd holds
// a memfd with the module's .so contents, ready to dlopen.
type ModulePayload struct {
	Name string
	Fd   int
}

// ReadModules fetches every module usable for this daemon's ABI.
func (c *Client) ReadModules(ctx context.Context) ([]ModulePayload, error) {
	conn, err := c.dial(defaultRetries)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := wire.WriteOpcode(conn, model.OpReadModules); err != nil {
		return nil, err
	}
	count, err := wire.ReadUint32(conn)
	if err != nil {
		return nil, err
	}
	out := make([]ModulePayload, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := wire.ReadString(conn)
		if err != nil {
			return out, err
		}
		fd, err := wire.RecvFD(conn)
		if err != nil {
			return out, err
		}
		out = append(out, ModulePayload{Name: name, Fd: fd})
	}
	return out, nil
}

// RequestCompanionSocket asks the daemon to hand the current connection
// off to the companion handler registered for module moduleIndex. On
// success, the returned conn becomes a raw duplex channel to that
// handler and the caller owns its lifetime.
func (c *Client) RequestCompanionSocket(ctx context.Context, moduleIndex uint32) (*net.UnixConn, error) {
	conn, err := c.dial(defaultRetries)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteOpcode(conn, model.OpRequestCompanionSocket); err != nil {
		conn.Close()
		return nil, err
	}
	if err := wire.WriteUint32(conn, moduleIndex); err != nil {
		conn.Close()
		return nil, err
	}
	ok, err := wire.ReadBool(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("daemonclient: companion socket refused for module %d", moduleIndex)
	}
	return conn, nil
}

// GetModuleDir fetches a directory fd for module moduleIndex.
func (c *Client) GetModuleDir(ctx context.Context, moduleIndex uint32) (int, error) {
	conn, err := c.dial(defaultRetries)
	if err != nil {
		return -1, err
	}
	defer conn.Close()

	if err := wire.WriteOpcode(conn, model.OpGetModuleDir); err != nil {
		return -1, err
	}
	if err := wire.WriteUint32(conn, moduleIndex); err != nil {
		return -1, err
	}
	return wire.RecvFD(conn)
}

// ZygoteRestart broadcasts a restart notice. ENOENT (daemon not running
// yet) is treated as success here only, per §4.5's connect policy.
func (c *Client) ZygoteRestart(ctx context.Context) error {
	conn, err := c.dial(defaultRetries)
	if err != nil {
		if zerr, ok := err.(*zerrors.Error); ok && isENOENT(zerr.Err) {
			return nil
		}
		return err
	}
	defer conn.Close()
	return wire.WriteOpcode(conn, model.OpZygoteRestart)
}
