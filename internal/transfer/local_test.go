package transfer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"csync/internal/csync"
	"csync/internal/transfer"
)

var preserve = csync.TransferOptions{PreserveAttributes: true}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// assertNoTempFiles fails if a transfer left temp files behind in dir.
func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".csync-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLocalTransferor_CopiesNewFile(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src", "a.txt")
	dest := filepath.Join(tmp, "dst", "nested", "deeper", "a.txt")
	mtime := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, src, "hello world", mtime)

	res, err := transfer.NewLocalTransferor().Transfer(context.Background(), src, dest, preserve)
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if res.Outcome != csync.Copied || res.Bytes != 11 {
		t.Errorf("Transfer() = %+v, want Copied 11 bytes", res)
	}
	if got := readFile(t, dest); got != "hello world" {
		t.Errorf("dest content = %q", got)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("dest mtime = %v, want %v", info.ModTime(), mtime)
	}
	if info.Mode().Perm() != 0640 {
		t.Errorf("dest mode = %v, want 0640", info.Mode().Perm())
	}
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestLocalTransferor_IdenticalDestinationIsNoop(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "a.txt")
	dest := filepath.Join(tmp, "out", "a.txt")
	srcTime := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, src, "same", srcTime)
	writeFile(t, dest, "same", srcTime.Add(48*time.Hour))

	tr := transfer.NewLocalTransferor()
	for i := 0; i < 2; i++ {
		res, err := tr.Transfer(context.Background(), src, dest, preserve)
		if err != nil {
			t.Fatalf("Transfer() #%d error = %v", i, err)
		}
		if res.Outcome != csync.AlreadyIdentical {
			t.Errorf("Transfer() #%d outcome = %v, want identical", i, res.Outcome)
		}
	}

	info, _ := os.Stat(dest)
	if !info.ModTime().Equal(srcTime) {
		t.Errorf("attributes not refreshed: mtime = %v", info.ModTime())
	}
}

func TestLocalTransferor_ReplaceRules(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		srcTime   time.Time
		destTime  time.Time
		overwrite bool
		wantErr   bool
		wantDest  string
	}{
		{"older destination replaced", base.Add(time.Hour), base, false, false, "new content"},
		{"same mtime replaced", base, base, false, false, "new content"},
		{"newer destination refused", base, base.Add(time.Hour), false, true, "old"},
		{"newer destination forced", base, base.Add(time.Hour), true, false, "new content"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			src := filepath.Join(tmp, "a.txt")
			dest := filepath.Join(tmp, "out", "a.txt")
			writeFile(t, src, "new content", tt.srcTime)
			writeFile(t, dest, "old", tt.destTime)

			opts := csync.TransferOptions{OverwriteExisting: tt.overwrite, PreserveAttributes: true}
			res, err := transfer.NewLocalTransferor().Transfer(context.Background(), src, dest, opts)
			if tt.wantErr {
				if !errors.Is(err, csync.ErrTransfer) {
					t.Fatalf("Transfer() error = %v, want ErrTransfer", err)
				}
				var te *csync.TransferError
				if errors.As(err, &te) && te.Reason != "destination is newer than source" {
					t.Errorf("Reason = %q", te.Reason)
				}
			} else {
				if err != nil {
					t.Fatalf("Transfer() error = %v", err)
				}
				if res.Outcome != csync.Copied {
					t.Errorf("Outcome = %v, want copied", res.Outcome)
				}
			}
			if got := readFile(t, dest); got != tt.wantDest {
				t.Errorf("dest content = %q, want %q", got, tt.wantDest)
			}
		})
	}
}

func TestLocalTransferor_SourceVanished(t *testing.T) {
	tmp := t.TempDir()
	dest := filepath.Join(tmp, "out", "a.txt")

	_, err := transfer.NewLocalTransferor().Transfer(context.Background(), filepath.Join(tmp, "gone.txt"), dest, preserve)
	if !errors.Is(err, csync.ErrTransfer) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Transfer() error = %v, want ErrTransfer wrapping ErrNotExist", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("destination was created for a vanished source")
	}
}

func TestLocalTransferor_CancelledContext(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "a.txt")
	writeFile(t, src, "data", time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := transfer.NewLocalTransferor().Transfer(ctx, src, filepath.Join(tmp, "out", "a.txt"), preserve)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Transfer() error = %v, want context.Canceled", err)
	}
}

// fullDisk is a temp file that accepts limit bytes and then fails with ENOSPC.
// It does not embed *os.File so io.Copy cannot bypass Write via ReadFrom.
type fullDisk struct {
	f     *os.File
	limit int
}

func (d *fullDisk) Write(p []byte) (int, error) {
	if len(p) <= d.limit {
		d.limit -= len(p)
		return d.f.Write(p)
	}
	n, _ := d.f.Write(p[:d.limit])
	d.limit = 0
	return n, syscall.ENOSPC
}

func (d *fullDisk) Name() string { return d.f.Name() }
func (d *fullDisk) Sync() error  { return d.f.Sync() }
func (d *fullDisk) Close() error { return d.f.Close() }

func fullDiskAfter(limit int) transfer.TempFileFunc {
	return func(dir, pattern string) (transfer.TempFile, error) {
		f, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return nil, err
		}
		return &fullDisk{f: f, limit: limit}, nil
	}
}

func TestLocalTransferor_DiskFullLeavesNoPartialFile(t *testing.T) {
	content := strings.Repeat("0123456789", 10_000)

	t.Run("new destination stays absent", func(t *testing.T) {
		tmp := t.TempDir()
		src := filepath.Join(tmp, "big.bin")
		dest := filepath.Join(tmp, "out", "big.bin")
		writeFile(t, src, content, time.Time{})

		tr := transfer.NewLocalTransferor(transfer.WithTempFileFunc(fullDiskAfter(4096)))
		_, err := tr.Transfer(context.Background(), src, dest, preserve)
		if !errors.Is(err, csync.ErrTransfer) || !errors.Is(err, syscall.ENOSPC) {
			t.Fatalf("Transfer() error = %v, want ErrTransfer wrapping ENOSPC", err)
		}
		if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("partial destination exists: %v", err)
		}
		assertNoTempFiles(t, filepath.Dir(dest))
	})

	t.Run("existing destination keeps prior content", func(t *testing.T) {
		tmp := t.TempDir()
		src := filepath.Join(tmp, "big.bin")
		dest := filepath.Join(tmp, "out", "big.bin")
		old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		writeFile(t, dest, "previous version", old)
		writeFile(t, src, content, old.Add(time.Hour))

		tr := transfer.NewLocalTransferor(transfer.WithTempFileFunc(fullDiskAfter(100)))
		if _, err := tr.Transfer(context.Background(), src, dest, preserve); err == nil {
			t.Fatal("Transfer() expected error")
		}
		if got := readFile(t, dest); got != "previous version" {
			t.Errorf("dest content changed to %d bytes", len(got))
		}
		assertNoTempFiles(t, filepath.Dir(dest))
	})
}

func TestLocalTransferor_DestinationIsDirectory(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "a.txt")
	dest := filepath.Join(tmp, "out", "a.txt")
	writeFile(t, src, "x", time.Time{})
	if err := os.MkdirAll(dest, 0755); err != nil {
		t.Fatal(err)
	}

	_, err := transfer.NewLocalTransferor().Transfer(context.Background(), src, dest, preserve)
	if !errors.Is(err, csync.ErrTransfer) {
		t.Errorf("Transfer() error = %v, want ErrTransfer", err)
	}
}
