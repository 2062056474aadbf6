package notify

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestConnectionRegistry_Register(t *testing.T) {
	reg := NewConnectionRegistry()
	conn := &websocket.Conn{}

	reg.Register("dev-1", 1, conn)

	if active := reg.Get("dev-1", 1); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
	if n := reg.Count("dev-1"); n != 1 {
		t.Errorf("Expected 1 connection, got %d", n)
	}
}

func TestConnectionRegistry_Unregister(t *testing.T) {
	reg := NewConnectionRegistry()
	conn := &websocket.Conn{}

	reg.Register("dev-1", 1, conn)
	reg.Unregister("dev-1", 1, conn)

	if active := reg.Get("dev-1", 1); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
	if n := reg.Count("dev-1"); n != 0 {
		t.Errorf("Expected 0 connections, got %d", n)
	}
}

func TestConnectionRegistry_UnregisterStale(t *testing.T) {
	reg := NewConnectionRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	reg.Register("dev-1", 1, conn1)
	reg.Register("dev-1", 2, conn2)

	// A stale unregister must not remove another live connection.
	reg.Unregister("dev-1", 2, conn1)
	reg.Unregister("dev-1", 1, conn1)

	if active := reg.Get("dev-1", 2); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestConnectionRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewConnectionRegistry()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			reg.Register("dev-"+strconv.Itoa(i%10), int64(i), &websocket.Conn{})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			reg.Get("dev-"+strconv.Itoa(i%10), int64(i))
		}
	}()

	wg.Wait()
}
