package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	charmssh "github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	cryptossh "golang.org/x/crypto/ssh"
)

func TestHost_Addr(t *testing.T) {
	tests := []struct {
		name string
		host Host
		want string
	}{
		{name: "default port", host: Host{Address: "10.0.0.1"}, want: "10.0.0.1:22"},
		{name: "explicit port", host: Host{Address: "10.0.0.1", Port: 2222}, want: "10.0.0.1:2222"},
		{name: "port in address", host: Host{Address: "10.0.0.1:2200", Port: 22}, want: "10.0.0.1:2200"},
		{name: "ipv6", host: Host{Address: "::1"}, want: "[::1]:22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.host.Addr(); got != tt.want {
				t.Errorf("Addr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHost_IP(t *testing.T) {
	if got := (Host{Address: "1.2.3.4:2222"}).IP(); got != "1.2.3.4" {
		t.Errorf("IP() = %q", got)
	}
	if got := (Host{Address: "1.2.3.4"}).IP(); got != "1.2.3.4" {
		t.Errorf("IP() = %q", got)
	}
}

// fakeServer is an in-process SSH server that records the commands it
// receives and the bytes written to it.
type fakeServer struct {
	mu       sync.Mutex
	commands []string
	written  map[string][]byte
}

func (f *fakeServer) handle(sess charmssh.Session) {
	cmd := sess.RawCommand()

	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	switch {
	case cmd == "echo hello":
		io.WriteString(sess, "hello\n")
		sess.Exit(0)
	case strings.HasPrefix(cmd, "cat > "):
		data, _ := io.ReadAll(sess)
		f.mu.Lock()
		f.written[cmd] = data
		f.mu.Unlock()
		sess.Exit(0)
	case cmd == "exit 3":
		io.WriteString(sess.Stderr(), "boom\n")
		sess.Exit(3)
	default:
		sess.Exit(0)
	}
}

func (f *fakeServer) seen() ([]string, map[string][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...), f.written
}

func startFakeServer(t *testing.T) (*fakeServer, Host) {
	t.Helper()

	fake := &fakeServer{written: make(map[string][]byte)}

	srv, err := wish.NewServer(
		wish.WithPublicKeyAuth(func(ctx charmssh.Context, key charmssh.PublicKey) bool { return true }),
		wish.WithMiddleware(func(next charmssh.Handler) charmssh.Handler {
			return fake.handle
		}),
	)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return fake, Host{
		Name:    "fake",
		Address: "127.0.0.1",
		Port:    addr.Port,
		User:    "deploy",
		KeyPath: writeTestKey(t),
	}
}

func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := cryptossh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return path
}

func TestClient_Run(t *testing.T) {
	fake, host := startFakeServer(t)

	client := NewClient(Options{})
	defer client.Close()

	sess, err := client.Connect(context.Background(), host)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var stdout bytes.Buffer
	if err := sess.Run(context.Background(), "echo hello", &stdout, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stdout.String() != "hello\n" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "hello\n")
	}

	commands, _ := fake.seen()
	if len(commands) != 1 || commands[0] != "echo hello" {
		t.Errorf("server saw commands %v", commands)
	}
}

func TestClient_RunNonZeroExit(t *testing.T) {
	_, host := startFakeServer(t)

	client := NewClient(Options{})
	defer client.Close()

	sess, err := client.Connect(context.Background(), host)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var stderr bytes.Buffer
	err = sess.Run(context.Background(), "exit 3", nil, &stderr)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var exitErr *cryptossh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 3 {
		t.Errorf("expected exit status 3, got %v", err)
	}
	if stderr.String() != "boom\n" {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestClient_ReusesConnection(t *testing.T) {
	_, host := startFakeServer(t)

	c := NewClient(Options{}).(*client)
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Connect(context.Background(), host); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
	}

	if len(c.connections) != 1 {
		t.Errorf("expected 1 cached connection, got %d", len(c.connections))
	}
}

func TestClient_ConcurrentConnectCachesOne(t *testing.T) {
	_, host := startFakeServer(t)

	c := NewClient(Options{}).(*client)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Connect(context.Background(), host); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Connect() error = %v", err)
	}
	if len(c.connections) != 1 {
		t.Errorf("expected 1 cached connection, got %d", len(c.connections))
	}
}

func TestClient_SlowHandshakeDoesNotBlockOtherHosts(t *testing.T) {
	_, host := startFakeServer(t)

	// accepts TCP but never speaks SSH
	stalled, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stalled.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := stalled.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client := NewClient(Options{})
	defer client.Close()

	stalledDone := make(chan struct{})
	go func() {
		defer close(stalledDone)
		client.Connect(context.Background(), Host{
			Address: "127.0.0.1",
			Port:    stalled.Addr().(*net.TCPAddr).Port,
			KeyPath: host.KeyPath,
		})
	}()

	var held net.Conn
	select {
	case held = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("stalled server never accepted")
	}
	defer func() {
		held.Close()
		<-stalledDone
	}()

	done := make(chan error, 1)
	go func() {
		_, err := client.Connect(context.Background(), host)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Connect() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect() blocked behind another host's handshake")
	}
}

func TestClient_CopyFile(t *testing.T) {
	fake, host := startFakeServer(t)

	client := NewClient(Options{})
	defer client.Close()

	sess, err := client.Connect(context.Background(), host)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := sess.CopyFile(context.Background(), strings.NewReader("APP_VERSION=v2\n"), "/app/.env", 0640); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}

	_, written := fake.seen()
	if len(written) != 1 {
		t.Fatalf("expected one write, got %d", len(written))
	}
	for cmd, data := range written {
		if string(data) != "APP_VERSION=v2\n" {
			t.Errorf("written data = %q", data)
		}
		if !strings.Contains(cmd, "chmod 640") || !strings.HasSuffix(cmd, "/app/.env") {
			t.Errorf("unexpected write command %q", cmd)
		}
	}
}

func TestClient_MissingKey(t *testing.T) {
	client := NewClient(Options{})
	defer client.Close()

	_, err := client.Connect(context.Background(), Host{
		Address: "127.0.0.1",
		Port:    1,
		KeyPath: filepath.Join(t.TempDir(), "missing"),
	})
	if err == nil || !strings.Contains(err.Error(), "failed to read SSH key") {
		t.Errorf("expected key read error, got %v", err)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	client := NewClient(Options{})
	defer client.Close()

	_, err = client.Connect(context.Background(), Host{
		Address: "127.0.0.1",
		Port:    port,
		KeyPath: writeTestKey(t),
	})
	if err == nil || !strings.Contains(err.Error(), "127.0.0.1:"+strconv.Itoa(port)) {
		t.Errorf("expected dial error naming the address, got %v", err)
	}
}
