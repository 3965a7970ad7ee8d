package profiling

import (
	"fmt"
	"os"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
)

// PyroscopeProfiler wraps a running Pyroscope agent.
type PyroscopeProfiler struct {
	profiler *pyroscope.Profiler
}

// StartPyroscope starts continuous profiling. It returns (nil, nil) when disabled.
func StartPyroscope(cfg Config, serviceName, version string, log logger.Logger) (*PyroscopeProfiler, error) {
	if !cfg.Continuous {
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	cfg.SetDefaults()

	appName := "north-cloud." + serviceName
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   cfg.PyroscopeURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": cfg.Environment,
			"version":     version,
			"hostname":    hostname(),
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope profiler: %w", err)
	}

	log.Info("Pyroscope continuous profiling started",
		logger.String("application", appName),
		logger.String("server", cfg.PyroscopeURL),
		logger.String("environment", cfg.Environment),
	)
	return &PyroscopeProfiler{profiler: profiler}, nil
}

// Stop flushes and stops the agent. Safe on a nil receiver.
func (p *PyroscopeProfiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}
	return p.profiler.Stop()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
