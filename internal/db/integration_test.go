//go:build integration

package db

import (
	"fmt"
	"net"
	"os/exec"
	"testing"
	"time"
)

// startDoltServer initializes a Dolt repo in a temp directory and starts
// dolt sql-server on a free port. The server is stopped when the test
// completes. Dolt speaks the MySQL wire protocol, so these tests exercise
// the mysql driver path without a full MySQL install.
func startDoltServer(t *testing.T) int {
	t.Helper()

	dir := t.TempDir()

	for _, kv := range [][2]string{
		{"user.name", "Test Runner"},
		{"user.email", "test@missionctl.dev"},
	} {
		cfg := exec.Command("dolt", "config", "--global", "--add", kv[0], kv[1])
		cfg.Dir = dir
		cfg.CombinedOutput() // ignore errors if already set
	}

	init := exec.Command("dolt", "init")
	init.Dir = dir
	if out, err := init.CombinedOutput(); err != nil {
		t.Fatalf("dolt init: %s\n%s", err, out)
	}

	port := freePort(t)
	cmd := exec.Command("dolt", "sql-server",
		"--port", fmt.Sprintf("%d", port),
		"--host", "127.0.0.1",
	)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		t.Fatalf("dolt sql-server start: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	waitForServer(t, port)
	return port
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func waitForServer(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("dolt sql-server not ready on port %d after 10s", port)
}

func TestIntegration_CreateMigrateDrop(t *testing.T) {
	port := startDoltServer(t)

	adminDB, err := ConnectAdmin("127.0.0.1", port)
	if err != nil {
		t.Fatalf("ConnectAdmin: %v", err)
	}
	if err := CreateDatabase(adminDB, "missionctl_test"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}

	gdb, err := Connect("127.0.0.1", port, "missionctl_test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("missing table for %T", m)
		}
	}

	if err := DropDatabase(adminDB, "missionctl_test"); err != nil {
		t.Fatalf("DropDatabase: %v", err)
	}
}
