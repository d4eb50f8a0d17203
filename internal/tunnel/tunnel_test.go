package tunnel

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestTunnelStartStop(t *testing.T) {
	tun := New("cat")
	defer tun.Close()

	fwd, err := tun.StartForward(0, "")
	if err != nil {
		t.Fatalf("StartForward: %v", err)
	}
	if fwd.Port == 0 {
		t.Fatal("expected ephemeral port, got 0")
	}
	if fwd.Connected || fwd.ClientCount != 0 {
		t.Errorf("fresh forward should have no clients: %+v", fwd)
	}

	if len(tun.ListForwards()) != 1 {
		t.Fatalf("expected 1 forward, got %d", len(tun.ListForwards()))
	}
	got, err := tun.GetForward(fwd.ID)
	if err != nil {
		t.Fatalf("GetForward: %v", err)
	}
	if got.ID != fwd.ID {
		t.Errorf("expected id %q, got %q", fwd.ID, got.ID)
	}

	if err := tun.StopForward(fwd.ID); err != nil {
		t.Fatalf("StopForward: %v", err)
	}
	if len(tun.ListForwards()) != 0 {
		t.Error("expected 0 forwards after stop")
	}
	if err := tun.StopForward(fwd.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second StopForward: expected ErrNotFound, got %v", err)
	}
	if _, err := tun.GetForward(fwd.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetForward after stop: expected ErrNotFound, got %v", err)
	}
}

// dialAndEcho connects to the forward, writes a marker through the
// remote cat, and waits for it to echo back.
func dialAndEcho(t *testing.T, port int, marker string) {
	t.Helper()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(marker + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		out = append(out, buf[:n]...)
		if bytes.Contains(out, []byte(marker)) {
			return
		}
		if err != nil {
			t.Fatalf("marker %q never echoed back, got %q (err=%v)", marker, out, err)
		}
	}
}

func TestTunnelEcho(t *testing.T) {
	tun := New("cat")
	defer tun.Close()

	fwd, err := tun.StartForward(0, "")
	if err != nil {
		t.Fatalf("StartForward: %v", err)
	}

	dialAndEcho(t, fwd.Port, "TUNNEL-MARK-1")
}

// TestTunnelConcurrentClients verifies two simultaneous connections get
// independent shells: each sees only its own marker.
func TestTunnelConcurrentClients(t *testing.T) {
	tun := New("cat")
	defer tun.Close()

	fwd, err := tun.StartForward(0, "")
	if err != nil {
		t.Fatalf("StartForward: %v", err)
	}

	done := make(chan struct{}, 2)
	go func() {
		dialAndEcho(t, fwd.Port, "CLIENT-A")
		done <- struct{}{}
	}()
	go func() {
		dialAndEcho(t, fwd.Port, "CLIENT-B")
		done <- struct{}{}
	}()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for clients")
		}
	}
}

func TestTunnelStopRejectsNewDials(t *testing.T) {
	tun := New("cat")

	fwd, err := tun.StartForward(0, "")
	if err != nil {
		t.Fatalf("StartForward: %v", err)
	}
	if err := tun.StopForward(fwd.ID); err != nil {
		t.Fatalf("StopForward: %v", err)
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", fwd.Port), time.Second)
	if err == nil {
		conn.Close()
		t.Error("expected dial to fail after StopForward")
	}
}
