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

// Package wire implements the binary request/response framing spoken
// over the per-ABI daemon's abstract Unix socket: a one-byte opcode
// followed by opcode-specific, length-prefixed fields, with SCM_RIGHTS
// used to pass file descriptors inline with a response.
//
// Ground: original_source/loader/src/common/socket_utils.cpp (the
// length-prefixed read_string/write_string helpers and the fd-passing
// send/recvmsg wrappers).
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/model"
)

// maxStringLen bounds a single length-prefixed field to guard against a
// corrupt or hostile peer claiming an absurd length.
const maxStringLen = 1 << 20

// WriteOpcode writes the one-byte opcode that starts every request.
func WriteOpcode(w io.Writer, op model.Opcode) error {
	_, err := w.Write([]byte{byte(op)})
	return err
}

// ReadOpcode reads the one-byte opcode a request starts with.
func ReadOpcode(r io.Reader) (model.Opcode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return model.Opcode(b[0]), nil
}

// WriteUint32 writes a little-endian 4-byte integer (used for lengths
// and small fixed fields like flags and pids).
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint32 reads a little-endian 4-byte integer.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// WriteString writes a length-prefixed string: a uint32 byte count
// followed by the raw bytes (no NUL terminator on the wire).
func WriteString(w io.Writer, s string) error {
	if err := WriteUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a length-prefixed string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("wire: string length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteBool writes a single-byte boolean.
func WriteBool(w io.Writer, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

// ReadBool reads a single-byte boolean.
func ReadBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// SendFD sends a single file descriptor as ancillary data alongside a
// one-byte marker payload, the way socket_utils.cpp's send_fd does over
// SCM_RIGHTS.
func SendFD(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)
	_, _, err := conn.WriteMsgUnix([]byte{1}, rights, nil)
	return err
}

// RecvFD receives a single file descriptor sent by SendFD.
func RecvFD(conn *net.UnixConn) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, err
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, err
	}
	if len(msgs) == 0 {
		return -1, fmt.Errorf("wire: no control message in fd response")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return -1, err
	}
	if len(fds) == 0 {
		return -1, fmt.Errorf("wire: no fds in control message")
	}
	return fds[0], nil
}

// BufferedConn wraps a *net.UnixConn's byte stream with buffering for the
// opcode/string framing above, while still exposing the raw conn for
// SendFD/RecvFD (which must not go through the bufio layer, since
// ancillary data rides on a specific recvmsg/sendmsg call).
type BufferedConn struct {
	*net.UnixConn
	R *bufio.Reader
}

func NewBufferedConn(c *net.UnixConn) *BufferedConn {
	return &BufferedConn{UnixConn: c, R: bufio.NewReader(c)}
}
