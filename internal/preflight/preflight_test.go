package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"camwatch/internal/perf"
	"camwatch/internal/testsupport"
)

func TestCheckBinary(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteExecutable(t, filepath.Join(dir, "ffmpeg"), "exit 0\n")
	t.Setenv("PATH", dir)

	if res := CheckBinary("FFmpeg", "ffmpeg", false); !res.Passed || res.Severity() != "ok" {
		t.Fatalf("ffmpeg check = %+v, want passed", res)
	}
	res := CheckBinary("lsof", "lsof", true)
	if res.Passed || res.Severity() != "warn" {
		t.Fatalf("lsof check = %+v, want optional failure", res)
	}
	if res := CheckBinary("FFmpeg", " ", false); res.Passed || res.Severity() != "error" {
		t.Fatalf("blank command = %+v, want error", res)
	}
}

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	if res := CheckDirectoryAccess("State", dir); !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	missing := filepath.Join(dir, "missing")
	if res := CheckDirectoryAccess("State", missing); res.Passed || !strings.Contains(res.Detail, "does not exist") {
		t.Fatalf("expected missing dir failure, got %+v", res)
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if res := CheckDirectoryAccess("State", file); res.Passed || !strings.Contains(res.Detail, "not a directory") {
		t.Fatalf("expected not-a-directory failure, got %+v", res)
	}
}

func TestCheckDevices(t *testing.T) {
	dir := t.TempDir()
	glob := filepath.Join(dir, "video*")

	if res := CheckDevices(context.Background(), glob); res.Passed || !strings.Contains(res.Detail, "no devices") {
		t.Fatalf("empty glob = %+v", res)
	}
	// Regular files are not capture devices.
	if err := os.WriteFile(filepath.Join(dir, "video0"), nil, 0o666); err != nil {
		t.Fatal(err)
	}
	if res := CheckDevices(context.Background(), glob); res.Passed || res.Severity() != "warn" {
		t.Fatalf("regular file glob = %+v", res)
	}
}

type stubSampler struct {
	sample perf.Sample
	err    error
}

func (s stubSampler) Sample(context.Context) (perf.Sample, error) { return s.sample, s.err }

func TestCheckMetrics(t *testing.T) {
	res := CheckMetrics(context.Background(), stubSampler{sample: perf.Sample{Load: 0.42, TempC: 61.5, HasTemp: true}})
	if !res.Passed || res.Detail != "load 42%, cpu 61.5°C" {
		t.Fatalf("metrics = %+v", res)
	}
	res = CheckMetrics(context.Background(), stubSampler{err: errors.New("no /proc")})
	if res.Passed || res.Severity() != "warn" {
		t.Fatalf("metrics failure = %+v", res)
	}
}

func TestRunAllIncludesHolderLookupWhenKilling(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	cfg.Camera.KillDeviceHolders = true
	names := map[string]bool{}
	for _, res := range RunAll(context.Background(), cfg) {
		names[res.Name] = true
	}
	for _, want := range []string{"FFmpeg", "State directory", "Log directory", "Cameras", "System metrics", "Holder lookup"} {
		if !names[want] {
			t.Fatalf("missing check %q in %v", want, names)
		}
	}
}
