package bytesource

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeChunk(t *testing.T, conn net.Conn, data []byte) {
	t.Helper()
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := conn.Write(lenBuf); err != nil {
		t.Fatalf("write length prefix: %v", err)
	}
	if len(data) > 0 {
		if _, err := conn.Write(data); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}
}

func TestIPCSourceAccumulatesChunksAndSeals(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "recording.sock")

	src := NewIPCSource(IPCSourceConfig{SocketPath: sockPath}, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	writeChunk(t, conn, []byte("4.sync,13.1000;"))

	deadline := time.After(2 * time.Second)
	for src.Size() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for chunk to be ingested")
		case <-time.After(5 * time.Millisecond):
		}
	}

	got, err := src.Slice(context.Background(), 0, src.Size())
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if got != "4.sync,13.1000;" {
		t.Fatalf("unexpected buffered content: %q", got)
	}

	writeChunk(t, conn, nil) // seal

	awaitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sealed, err := src.AwaitGrowth(awaitCtx)
	if err != nil {
		t.Fatalf("AwaitGrowth: %v", err)
	}
	if !sealed {
		t.Fatal("expected source to be sealed after zero-length chunk")
	}
}

func TestIPCSourceRejectsDoubleStart(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "recording.sock")

	src := NewIPCSource(IPCSourceConfig{SocketPath: sockPath}, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	if err := src.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestIPCSourceCleansUpSocketFileOnStop(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "recording.sock")

	src := NewIPCSource(IPCSourceConfig{SocketPath: sockPath}, zerolog.Nop())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Fatalf("expected socket file to be removed, stat err = %v", err)
	}
}
