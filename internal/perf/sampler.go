package perf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

const defaultThermalGlob = "/sys/class/thermal/thermal_zone*/temp"

// cpuSensorHints selects CPU package sensors over board or drive sensors.
var cpuSensorHints = []string{"cpu", "soc", "coretemp", "k10temp", "package", "tctl"}

// SystemSampler reads the 1-minute load average normalised by logical CPU
// count, and the hottest CPU temperature sensor.
type SystemSampler struct {
	ThermalGlob string

	loadAvg func(ctx context.Context) (*load.AvgStat, error)
	cpus    func(ctx context.Context) (int, error)
	sensors func(ctx context.Context) ([]host.TemperatureStat, error)
	now     func() time.Time
}

// NewSystemSampler returns a sampler backed by gopsutil.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{
		ThermalGlob: defaultThermalGlob,
		loadAvg:     load.AvgWithContext,
		cpus: func(ctx context.Context) (int, error) {
			return cpu.CountsWithContext(ctx, true)
		},
		sensors: host.SensorsTemperaturesWithContext,
		now:     time.Now,
	}
}

// Sample fails with ErrMetrics only when the load average is unreadable; a
// missing temperature is reported through HasTemp.
func (s *SystemSampler) Sample(ctx context.Context) (Sample, error) {
	avg, err := s.loadAvg(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: load average: %v", ErrMetrics, err)
	}
	n, err := s.cpus(ctx)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	sample := Sample{
		Load:    clamp(avg.Load1/float64(n), 0, 1),
		TakenAt: s.now(),
	}
	if temp, ok := s.temperature(ctx); ok {
		sample.TempC = temp
		sample.HasTemp = true
	}
	return sample, nil
}

func (s *SystemSampler) temperature(ctx context.Context) (float64, bool) {
	// gopsutil returns partial results alongside a warnings error.
	stats, _ := s.sensors(ctx)
	if temp, ok := hottestSensor(stats); ok {
		return temp, true
	}
	return readThermalZones(s.ThermalGlob)
}

func hottestSensor(stats []host.TemperatureStat) (float64, bool) {
	best, found := 0.0, false
	hottest, hottestFound := 0.0, false
	for _, st := range stats {
		if st.Temperature <= 0 {
			continue
		}
		if st.Temperature > hottest {
			hottest, hottestFound = st.Temperature, true
		}
		key := strings.ToLower(st.SensorKey)
		for _, hint := range cpuSensorHints {
			if strings.Contains(key, hint) {
				if st.Temperature > best {
					best, found = st.Temperature, true
				}
				break
			}
		}
	}
	if found {
		return best, true
	}
	return hottest, hottestFound
}

// readThermalZones returns the hottest sysfs thermal zone in °C. Zones
// report millidegrees.
func readThermalZones(glob string) (float64, bool) {
	if glob == "" {
		return 0, false
	}
	paths, err := filepath.Glob(glob)
	if err != nil {
		return 0, false
	}
	best, found := 0.0, false
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil || milli <= 0 {
			continue
		}
		if c := milli / 1000; c > best {
			best, found = c, true
		}
	}
	return best, found
}
