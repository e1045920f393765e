package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// respServer is a tiny in-process Valkey stand-in speaking just enough RESP
// for the provider: PING, GET, SET and DEL.
type respServer struct {
	listener net.Listener

	mu   sync.Mutex
	data map[string][]byte
}

func startRespServer(t *testing.T) *respServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &respServer{listener: listener, data: map[string][]byte{}}
	go srv.acceptLoop()
	t.Cleanup(func() { _ = listener.Close() })
	return srv
}

func (s *respServer) addr() string { return s.listener.Addr().String() }

func (s *respServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *respServer) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		s.respond(conn, args)
	}
}

func (s *respServer) respond(conn net.Conn, args []string) {
	if len(args) == 0 {
		fmt.Fprint(conn, "-ERR empty command\r\n")
		return
	}
	switch strings.ToUpper(args[0]) {
	case "PING":
		fmt.Fprint(conn, "+PONG\r\n")
	case "SET":
		s.mu.Lock()
		s.data[args[1]] = []byte(args[2])
		s.mu.Unlock()
		fmt.Fprint(conn, "+OK\r\n")
	case "GET":
		s.mu.Lock()
		v, ok := s.data[args[1]]
		s.mu.Unlock()
		if !ok {
			fmt.Fprint(conn, "$-1\r\n")
			return
		}
		fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(v), v)
	case "DEL":
		s.mu.Lock()
		_, ok := s.data[args[1]]
		delete(s.data, args[1])
		s.mu.Unlock()
		n := 0
		if ok {
			n = 1
		}
		fmt.Fprintf(conn, ":%d\r\n", n)
	default:
		fmt.Fprintf(conn, "-ERR unknown command %s\r\n", args[0])
	}
}

func readCommand(reader *bufio.Reader) ([]string, error) {
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "*") {
		return nil, fmt.Errorf("unexpected header %q", header)
	}
	count, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sizeLine, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func newTestProvider(t *testing.T) *ValkeyProvider {
	t.Helper()
	srv := startRespServer(t)
	provider, err := NewValkeyProvider(ValkeyConfig{
		Addr:         srv.addr(),
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewValkeyProvider: %v", err)
	}
	return provider
}

func TestValkeySetGetDel(t *testing.T) {
	provider := newTestProvider(t)
	ctx := context.Background()

	if err := provider.Set(ctx, "analysis:latest", []byte(`{"health":85}`), 15*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := provider.Get(ctx, "analysis:latest")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"health":85}` {
		t.Errorf("Get = %q", got)
	}

	if err := provider.Del(ctx, "analysis:latest"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := provider.Get(ctx, "analysis:latest"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestValkeyGetMiss(t *testing.T) {
	provider := newTestProvider(t)
	if _, err := provider.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestValkeyUnreachable(t *testing.T) {
	_, err := NewValkeyProvider(ValkeyConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func TestNoopProviderAlwaysMisses(t *testing.T) {
	var provider Provider = NoopProvider{}
	ctx := context.Background()

	if err := provider.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := provider.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}
