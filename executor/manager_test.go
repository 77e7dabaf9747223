package executor

import (
	"bufio"
	"context"
	"testing"
	"time"
)

func TestManager_StartWaitReturnsExitCode(t *testing.T) {
	m := NewManager(Config{Path: "sh", Args: []string{"-c", "exit 0"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stdin().Close(); err != nil {
		t.Fatalf("close stdin: %v", err)
	}

	result, err := m.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestManager_NonZeroExitCodeIsReported(t *testing.T) {
	m := NewManager(Config{Path: "sh", Args: []string{"-c", "exit 7"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = m.Stdin().Close()

	result, err := m.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", result.ExitCode)
	}
}

func TestManager_StdoutIsReadable(t *testing.T) {
	m := NewManager(Config{Path: "sh", Args: []string{"-c", "echo hello"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = m.Stdin().Close()

	line, err := bufio.NewReader(m.Stdout()).ReadString('\n')
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if line != "hello\n" {
		t.Errorf("stdout = %q, want %q", line, "hello\n")
	}

	if _, err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestManager_KillTerminatesProcess(t *testing.T) {
	m := NewManager(Config{Path: "sh", Args: []string{"-c", "sleep 30"}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	result, err := m.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.ExitCode == 0 {
		t.Error("expected non-zero exit code for killed process")
	}
}

func TestManager_WaitBeforeStartReturnsError(t *testing.T) {
	m := NewManager(Config{Path: "sh"})
	if _, err := m.Wait(); err == nil {
		t.Fatal("expected error calling Wait before Start")
	}
}
