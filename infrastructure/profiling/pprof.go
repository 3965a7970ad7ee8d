// Package profiling starts the optional pprof listener and Pyroscope agent.
package profiling

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
)

const (
	defaultPprofPort  = "6060"
	readHeaderTimeout = 10 * time.Second
)

// Config controls both profilers. Zero value disables everything.
type Config struct {
	Pprof        bool   `yaml:"pprof"         env:"ENABLE_PROFILING"`
	PprofPort    string `yaml:"pprof_port"    env:"PPROF_PORT"`
	Continuous   bool   `yaml:"continuous"    env:"ENABLE_CONTINUOUS_PROFILING"`
	PyroscopeURL string `yaml:"pyroscope_url" env:"PYROSCOPE_SERVER_URL"`
	Environment  string `yaml:"environment"   env:"PYROSCOPE_ENVIRONMENT"`
}

// SetDefaults fills in unset values.
func (c *Config) SetDefaults() {
	if c.PprofPort == "" {
		c.PprofPort = defaultPprofPort
	}
	if c.PyroscopeURL == "" {
		c.PyroscopeURL = "http://pyroscope:4040"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// PprofHandler returns a mux serving the /debug/pprof/ endpoints.
func PprofHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// StartPprofServer serves pprof on localhost in the background when enabled.
// The returned server is nil when profiling is off.
func StartPprofServer(cfg Config, log logger.Logger) *http.Server {
	if !cfg.Pprof {
		return nil
	}
	cfg.SetDefaults()

	// Loopback only.
	srv := &http.Server{
		Addr:              net.JoinHostPort("localhost", cfg.PprofPort),
		Handler:           PprofHandler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info("Starting pprof server", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("pprof server error", logger.Error(err))
		}
	}()
	return srv
}
