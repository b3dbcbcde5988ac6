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

package daemon

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/spawnwatch/spawnwatch/internal/wire"
)

// LogcatRelay fans out (priority, tag, message) frames to every
// connection that has issued RequestLogcatFd. Per the wire contract, the
// fd handed back over SCM_RIGHTS is a dup of the same connection the
// request arrived on — the daemon keeps the original connection open and
// writes frames directly onto it, rather than opening a side channel.
type LogcatRelay struct {
	mu      sync.Mutex
	clients []*net.UnixConn
}

func NewLogcatRelay() *LogcatRelay {
	return &LogcatRelay{}
}

func (r *LogcatRelay) addClient(conn *net.UnixConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, conn)
}

// Write broadcasts one log frame to every connected client, dropping any
// client whose write fails (it has closed its end).
func (r *LogcatRelay) Write(priority uint8, tag, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alive := r.clients[:0]
	for _, c := range r.clients {
		if err := writeFrame(c, priority, tag, message); err != nil {
			c.Close()
			continue
		}
		alive = append(alive, c)
	}
	r.clients = alive
}

func writeFrame(w *net.UnixConn, priority uint8, tag, message string) error {
	if _, err := w.Write([]byte{priority}); err != nil {
		return err
	}
	if err := wire.WriteString(w, tag); err != nil {
		return err
	}
	return wire.WriteString(w, message)
}

// handleRequestLogcatFd duplicates the accepted connection's own fd and
// sends it back over SCM_RIGHTS, then keeps the original connection open
// as a relay client instead of letting Server.handle close it.
func (s *Server) handleRequestLogcatFd(conn *net.UnixConn) (keepOpen bool) {
	raw, err := conn.File()
	if err != nil {
		log.WithError(err).Warn("RequestLogcatFd: dup failed")
		return false
	}
	defer raw.Close()

	if err := wire.SendFD(conn, int(raw.Fd())); err != nil {
		log.WithError(err).Warn("RequestLogcatFd: send fd failed")
		return false
	}
	s.Logcat.addClient(conn)
	return true
}
