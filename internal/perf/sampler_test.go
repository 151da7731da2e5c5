package perf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

func stubbedSampler(avg float64, cpus int, sensors []host.TemperatureStat, glob string) *SystemSampler {
	return &SystemSampler{
		ThermalGlob: glob,
		loadAvg: func(context.Context) (*load.AvgStat, error) {
			return &load.AvgStat{Load1: avg}, nil
		},
		cpus:    func(context.Context) (int, error) { return cpus, nil },
		sensors: func(context.Context) ([]host.TemperatureStat, error) { return sensors, nil },
		now:     func() time.Time { return time.Unix(100, 0) },
	}
}

func TestSystemSamplerNormalisesLoad(t *testing.T) {
	s := stubbedSampler(3.0, 4, nil, "")
	sample, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.Load != 0.75 {
		t.Fatalf("load = %v, want 0.75", sample.Load)
	}
	if sample.HasTemp {
		t.Fatal("expected no temperature without sensors or zones")
	}

	s = stubbedSampler(9.0, 4, nil, "")
	sample, _ = s.Sample(context.Background())
	if sample.Load != 1 {
		t.Fatalf("load above capacity should clamp to 1, got %v", sample.Load)
	}
}

func TestSystemSamplerPrefersCPUSensor(t *testing.T) {
	sensors := []host.TemperatureStat{
		{SensorKey: "nvme_composite", Temperature: 90},
		{SensorKey: "coretemp_package_id_0", Temperature: 61},
		{SensorKey: "cpu_thermal", Temperature: 64},
	}
	sample, err := stubbedSampler(0.5, 1, sensors, "").Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !sample.HasTemp || sample.TempC != 64 {
		t.Fatalf("temp = %v (has=%v), want 64", sample.TempC, sample.HasTemp)
	}
}

func TestSystemSamplerThermalZoneFallback(t *testing.T) {
	dir := t.TempDir()
	for name, value := range map[string]string{"zone0": "48500\n", "zone1": "71000\n", "zone2": "garbage"} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name, "temp"), []byte(value), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sample, err := stubbedSampler(0.1, 1, nil, filepath.Join(dir, "zone*", "temp")).Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !sample.HasTemp || sample.TempC != 71 {
		t.Fatalf("temp = %v (has=%v), want 71", sample.TempC, sample.HasTemp)
	}
}

func TestSystemSamplerLoadFailure(t *testing.T) {
	s := stubbedSampler(0, 1, nil, "")
	s.loadAvg = func(context.Context) (*load.AvgStat, error) { return nil, errors.New("no /proc") }
	if _, err := s.Sample(context.Background()); !errors.Is(err, ErrMetrics) {
		t.Fatalf("expected ErrMetrics, got %v", err)
	}
}
