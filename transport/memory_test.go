package transport

import "testing"

func TestMemoryTransportRoundTrip(t *testing.T) {
	server := NewMemoryServerSocket()
	client := server.Connect("client-1")

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	addr, data, ok := server.TryRecv()
	if !ok {
		t.Fatal("expected server to receive a datagram")
	}
	if addr.String() != "client-1" || string(data) != "hello" {
		t.Fatalf("addr=%v data=%q", addr, data)
	}

	if err := server.Send(addr, []byte("world")); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	got, ok := client.TryRecv()
	if !ok || string(got) != "world" {
		t.Fatalf("client TryRecv = %q, %v", got, ok)
	}
}

func TestMemoryTransportNoDataReturnsFalse(t *testing.T) {
	server := NewMemoryServerSocket()
	if _, _, ok := server.TryRecv(); ok {
		t.Fatal("expected no data pending")
	}
	client := server.Connect("client-1")
	if _, ok := client.TryRecv(); ok {
		t.Fatal("expected no data pending")
	}
}

func TestMemoryTransportDisconnectDropsSends(t *testing.T) {
	server := NewMemoryServerSocket()
	client := server.Connect("client-1")
	addr := memoryAddr{id: "client-1"}

	client.Close()
	if err := server.Send(addr, []byte("too late")); err != nil {
		t.Fatalf("Send after disconnect should be a silent no-op: %v", err)
	}
	if _, ok := client.TryRecv(); ok {
		t.Fatal("expected nothing delivered to a disconnected client")
	}
}

func TestMemoryTransportMultipleClients(t *testing.T) {
	server := NewMemoryServerSocket()
	a := server.Connect("a")
	b := server.Connect("b")

	a.Send([]byte("from-a"))
	b.Send([]byte("from-b"))

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		addr, data, ok := server.TryRecv()
		if !ok {
			t.Fatalf("expected datagram %d", i)
		}
		seen[addr.String()] = string(data)
	}
	if seen["a"] != "from-a" || seen["b"] != "from-b" {
		t.Fatalf("seen = %v", seen)
	}
}
