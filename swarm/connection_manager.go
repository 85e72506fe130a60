// Copyright 2026 Blink Labs Software
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

package swarm

import (
	"slices"
	"strings"
	"sync"
)

// ConnectionManagerConnClosedFunc is called with a closed connection and the error that closed it, if any
type ConnectionManagerConnClosedFunc func(*Connection, error)

// ConnectionManagerTag represents the various tags that can be associated with a host or connection
type ConnectionManagerTag uint16

const (
	ConnectionManagerTagNone ConnectionManagerTag = iota

	ConnectionManagerTagHostKnownPeer

	ConnectionManagerTagRoleInitiator
	ConnectionManagerTagRoleResponder
)

func (c ConnectionManagerTag) String() string {
	tmp := map[ConnectionManagerTag]string{
		ConnectionManagerTagHostKnownPeer: "HostKnownPeer",
		ConnectionManagerTagRoleInitiator: "RoleInitiator",
		ConnectionManagerTagRoleResponder: "RoleResponder",
	}
	ret, ok := tmp[c]
	if !ok {
		return "Unknown"
	}
	return ret
}

// ConnectionManager tracks known hosts and live peer connections
type ConnectionManager struct {
	config           ConnectionManagerConfig
	hosts            []ConnectionManagerHost
	hostsMutex       sync.Mutex
	connections      map[string]*ConnectionManagerConnection
	connectionsMutex sync.Mutex
}

type ConnectionManagerConfig struct {
	ConnClosedFunc ConnectionManagerConnClosedFunc
}

type ConnectionManagerHost struct {
	Address PeerAddress
	Tags    map[ConnectionManagerTag]bool
}

func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	return &ConnectionManager{
		config:      cfg,
		connections: make(map[string]*ConnectionManagerConnection),
	}
}

func (c *ConnectionManager) AddHost(address PeerAddress, tags ...ConnectionManagerTag) {
	tmpTags := map[ConnectionManagerTag]bool{}
	for _, tag := range tags {
		tmpTags[tag] = true
	}
	c.hostsMutex.Lock()
	defer c.hostsMutex.Unlock()
	c.hosts = append(
		c.hosts,
		ConnectionManagerHost{
			Address: address,
			Tags:    tmpTags,
		},
	)
}

func (c *ConnectionManager) AddHostsFromTopology(topology *TopologyConfig) error {
	addrs, err := topology.PeerAddresses()
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		c.AddHost(addr, ConnectionManagerTagHostKnownPeer)
	}
	return nil
}

func (c *ConnectionManager) Hosts() []ConnectionManagerHost {
	c.hostsMutex.Lock()
	defer c.hostsMutex.Unlock()
	return slices.Clone(c.hosts)
}

// AddConnection starts tracking conn. The configured ConnClosedFunc is called
// once the connection shuts down, after it has been removed.
func (c *ConnectionManager) AddConnection(conn *Connection, tags ...ConnectionManagerTag) {
	connId := conn.Id().String()
	tmpTags := map[ConnectionManagerTag]bool{}
	for _, tag := range tags {
		tmpTags[tag] = true
	}
	c.connectionsMutex.Lock()
	c.connections[connId] = &ConnectionManagerConnection{
		Conn: conn,
		Tags: tmpTags,
	}
	c.connectionsMutex.Unlock()
	go func() {
		err := <-conn.ErrorChan()
		c.RemoveConnection(connId)
		// Call configured connection closed callback func
		if c.config.ConnClosedFunc != nil {
			c.config.ConnClosedFunc(conn, err)
		}
	}()
}

func (c *ConnectionManager) RemoveConnection(connId string) {
	c.connectionsMutex.Lock()
	delete(c.connections, connId)
	c.connectionsMutex.Unlock()
}

func (c *ConnectionManager) GetConnectionById(connId string) *ConnectionManagerConnection {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return c.connections[connId]
}

// GetConnectionByPeerId returns the first live connection to the given peer
func (c *ConnectionManager) GetConnectionByPeerId(peerId PeerId) *ConnectionManagerConnection {
	for _, conn := range c.GetConnectionsByTags() {
		if conn.Conn.PeerId() == peerId {
			return conn
		}
	}
	return nil
}

// GetConnectionsByTags returns the connections carrying all of the given tags,
// ordered by connection id
func (c *ConnectionManager) GetConnectionsByTags(tags ...ConnectionManagerTag) []*ConnectionManagerConnection {
	var ret []*ConnectionManagerConnection
	c.connectionsMutex.Lock()
	for _, conn := range c.connections {
		skipConn := false
		for _, tag := range tags {
			if _, ok := conn.Tags[tag]; !ok {
				skipConn = true
				break
			}
		}
		if !skipConn {
			ret = append(ret, conn)
		}
	}
	c.connectionsMutex.Unlock()
	slices.SortFunc(ret, func(a, b *ConnectionManagerConnection) int {
		return strings.Compare(a.Conn.Id().String(), b.Conn.Id().String())
	})
	return ret
}

func (c *ConnectionManager) ConnectionCount() int {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return len(c.connections)
}

type ConnectionManagerConnection struct {
	Conn *Connection
	Tags map[ConnectionManagerTag]bool
}
