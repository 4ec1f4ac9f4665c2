package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/utils"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const DefaultPort = 22

type Client interface {
	Connect(ctx context.Context, host Host) (Session, error)
	Close() error
}

type Host struct {
	Name    string
	Address string
	Port    int
	User    string
	KeyPath string
}

// Addr returns host:port, defaulting to port 22. An address that already
// carries a port wins over Port.
func (h Host) Addr() string {
	if _, _, err := net.SplitHostPort(h.Address); err == nil {
		return h.Address
	}
	port := h.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// IP returns the address without a port.
func (h Host) IP() string {
	if host, _, err := net.SplitHostPort(h.Address); err == nil {
		return host
	}
	return h.Address
}

type Options struct {
	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string
	DialTimeout    time.Duration
}

type client struct {
	opts        Options
	mu          sync.Mutex
	connections map[string]*ssh.Client
}

func NewClient(opts Options) Client {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 15 * time.Second
	}
	return &client{
		opts:        opts,
		connections: make(map[string]*ssh.Client),
	}
}

func (c *client) Connect(ctx context.Context, host Host) (Session, error) {
	addr := host.Addr()
	key := fmt.Sprintf("%s@%s", host.User, addr)

	c.mu.Lock()
	conn, ok := c.connections[key]
	c.mu.Unlock()
	if ok {
		return newSession(conn, host), nil
	}

	conn, err := c.dial(ctx, host, addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.connections[key]; ok {
		conn.Close()
		return newSession(existing, host), nil
	}
	c.connections[key] = conn

	return newSession(conn, host), nil
}

// dial opens a new connection without holding the cache lock so hosts of
// one batch connect in parallel.
func (c *client) dial(ctx context.Context, host Host, addr string) (*ssh.Client, error) {
	config, err := c.clientConfig(host)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *client) clientConfig(host Host) (*ssh.ClientConfig, error) {
	keyPath, err := utils.ExpandPath(host.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("invalid SSH key path %s: %w", host.KeyPath, err)
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key %s: %w", keyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.opts.KnownHostsFile != "" {
		path, err := utils.ExpandPath(c.opts.KnownHostsFile)
		if err != nil {
			return nil, err
		}
		hostKeyCallback, err = knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
		}
	}

	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.opts.DialTimeout,
	}, nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, conn := range c.connections {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.connections, key)
	}
	return firstErr
}
