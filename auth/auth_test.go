package auth

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestAuthenticateSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		r := bufio.NewReader(server)
		r.ReadByte()
		r.ReadString('\n')
		server.Write([]byte("OK deadbeef\r\n"))
		r.ReadString('\n')
		server.Write([]byte("AGREE_UNIX_FD\r\n"))
		r.ReadString('\n')
	}()

	client.SetDeadline(time.Now().Add(5 * time.Second))
	guid, gotFDs, err := Authenticate(client, true)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if guid != "deadbeef" {
		t.Errorf("guid = %q, want deadbeef", guid)
	}
	if !gotFDs {
		t.Error("gotFDs = false, want true")
	}
}

func TestAuthenticateRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		r := bufio.NewReader(server)
		r.ReadByte()
		r.ReadString('\n')
		server.Write([]byte("REJECTED\r\n"))
	}()

	client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := Authenticate(client, false); err == nil {
		t.Fatal("expected error for rejected auth")
	}
}
