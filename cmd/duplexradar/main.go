package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/rjboer/duplexradar/internal/app"
	"github.com/rjboer/duplexradar/internal/capture"
	"github.com/rjboer/duplexradar/internal/config"
	"github.com/rjboer/duplexradar/internal/logging"
	"github.com/rjboer/duplexradar/internal/mdns"
	"github.com/rjboer/duplexradar/internal/sdr"
	"github.com/rjboer/duplexradar/internal/sdr/usb"
	"github.com/rjboer/duplexradar/internal/store"
	"github.com/rjboer/duplexradar/internal/stream"
	"github.com/rjboer/duplexradar/internal/telemetry"
)

const defaultSettingsPath = "duplexradar.json"

func main() {
	os.Exit(run(os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr))
}

// run executes one session and returns the process exit code.
func run(args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	settingsPath := envString(lookup, "RADAR_SETTINGS", defaultSettingsPath)
	persistentCfg, err := loadOrCreateConfig(settingsPath)
	if err != nil {
		fmt.Fprintf(stderr, "load settings: %v\n", err)
		return 1
	}
	cfg, err := parseConfig(args, lookup, persistentCfg)
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	if err := saveConfig(settingsPath, persistentFromCLI(cfg)); err != nil {
		fmt.Fprintf(stderr, "save settings: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	logging.SetDefault(logger)

	// Streaming cannot be interrupted part way; SIGINT is noted and ignored.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			logger.Warn("interrupt ignored, the session runs to completion")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appCfg, err := cfg.appConfig()
	if err != nil {
		logger.Error("invalid configuration", logging.Field{Key: "err", Value: err})
		return 1
	}
	device, err := selectBackend(cfg)
	if err != nil {
		logger.Error("select backend", logging.Field{Key: "err", Value: err})
		return 1
	}

	radar := &app.Radar{
		Device:   device,
		Steps:    app.NewSteps(stdout, useColor(stdout, cfg.color)),
		Observer: telemetry.NewLogObserver(logger, cfg.logEvery),
		Logger:   logger,
	}

	if cfg.dbPath != "" {
		st, err := store.Open(cfg.dbPath, logger)
		if err != nil {
			logger.Error("open session store", logging.Field{Key: "err", Value: err})
			return 1
		}
		defer st.Close()
		radar.Store = st
	}

	if cfg.webAddr != "" {
		hub := telemetry.NewHub(cfg.historyLimit, logger)
		radar.Hub = hub
		shutdown, err := startTelemetry(ctx, cfg, hub, logger)
		if err != nil {
			logger.Error("start telemetry", logging.Field{Key: "err", Value: err})
			return 1
		}
		defer shutdown()
	}

	sess, err := radar.Run(ctx, appCfg)
	if err != nil {
		return 1
	}
	logger.Info("session recorded", logging.Field{Key: "id", Value: sess.ID}, logging.Field{Key: "capture", Value: sess.CapturePath})
	return 0
}

// useColor colours the step verdicts only on a terminal.
func useColor(w io.Writer, want bool) bool {
	f, ok := w.(*os.File)
	return want && ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func newLogger(cfg cliConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, out), nil
}

// startTelemetry serves the hub on cfg.webAddr and optionally advertises
// it over mDNS. The returned function stops the advertisement.
func startTelemetry(ctx context.Context, cfg cliConfig, hub *telemetry.Hub, logger logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", cfg.webAddr)
	if err != nil {
		return nil, err
	}
	srv := telemetry.NewWebServer(cfg.webAddr, hub, logger)
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			logger.Error("web telemetry server", logging.Field{Key: "err", Value: err})
		}
	}()
	if !cfg.advertise {
		return func() {}, nil
	}
	port := ln.Addr().(*net.TCPAddr).Port
	host, _ := os.Hostname()
	stop, err := mdns.Advertise("duplexradar on "+host, port, []string{"backend=" + cfg.backend})
	if err != nil {
		// Telemetry stays reachable by address.
		logger.Warn("mdns advertise failed", logging.Field{Key: "err", Value: err})
		return func() {}, nil
	}
	return stop, nil
}

type cliConfig struct {
	backend       string
	usbSerial     string
	usbTimeout    time.Duration
	quick         bool
	recordPath    string
	capturePath   string
	captureFormat string
	dbPath        string
	webAddr       string
	advertise     bool
	historyLimit  int
	logLevel      string
	logFormat     string
	logEvery      int
	color         bool
	lockMemory    bool

	waveform       string
	prn            int
	samplesPerChip int
	amplitude      int

	txFreq uint64
	rxFreq uint64
	txBW   uint64
	rxBW   uint64
	txSR   uint64
	rxSR   uint64
	txVGA1 int
	txVGA2 int
	rxVGA1 int
	rxVGA2 int
	lna    int

	loopback  bool
	echoDelay int
	echoShift int
	noise     int
	pace      bool
}

type persistentConfig struct {
	Backend        string `json:"backend"`
	USBSerial      string `json:"usb_serial"`
	USBTimeoutMS   int    `json:"usb_timeout_ms"`
	RecordPath     string `json:"record_path"`
	CapturePath    string `json:"capture_path"`
	CaptureFormat  string `json:"capture_format"`
	DBPath         string `json:"db_path"`
	WebAddr        string `json:"web_addr"`
	Advertise      bool   `json:"advertise"`
	HistoryLimit   int    `json:"history_limit"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
	LogEvery       int    `json:"log_every"`
	Color          bool   `json:"color"`
	LockMemory     bool   `json:"lock_memory"`
	Waveform       string `json:"waveform"`
	PRN            int    `json:"prn"`
	SamplesPerChip int    `json:"samples_per_chip"`
	Amplitude      int    `json:"amplitude"`
	TXFreq         uint64 `json:"tx_freq"`
	RXFreq         uint64 `json:"rx_freq"`
	TXBW           uint64 `json:"tx_bw"`
	RXBW           uint64 `json:"rx_bw"`
	TXSR           uint64 `json:"tx_sr"`
	RXSR           uint64 `json:"rx_sr"`
	TXVGA1         int    `json:"txvga1"`
	TXVGA2         int    `json:"txvga2"`
	RXVGA1         int    `json:"rxvga1"`
	RXVGA2         int    `json:"rxvga2"`
	LNA            int    `json:"lna"`
	Loopback       bool   `json:"sim_loopback"`
	EchoDelay      int    `json:"sim_echo_delay"`
	EchoShift      int    `json:"sim_echo_shift"`
	Noise          int    `json:"sim_noise"`
	Pace           bool   `json:"sim_pace"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	var usbTimeoutMS int
	fs := flag.NewFlagSet("duplexradar", flag.ContinueOnError)
	fs.StringVar(&cfg.backend, "backend", envString(lookup, "RADAR_BACKEND", defaults.Backend), "Transceiver backend (sim|usb)")
	fs.StringVar(&cfg.usbSerial, "usb-serial", envString(lookup, "RADAR_USB_SERIAL", defaults.USBSerial), "Serial number of the USB transceiver (first found when empty)")
	fs.IntVar(&usbTimeoutMS, "usb-timeout-ms", envInt(lookup, "RADAR_USB_TIMEOUT_MS", defaults.USBTimeoutMS), "Per bulk transfer timeout in milliseconds")
	fs.BoolVar(&cfg.quick, "quick", envBool(lookup, "RADAR_QUICK", false), "Skip the config record and device configuration")
	fs.StringVar(&cfg.recordPath, "record", envString(lookup, "RADAR_RECORD", defaults.RecordPath), "Configuration record output path")
	fs.StringVar(&cfg.capturePath, "capture", envString(lookup, "RADAR_CAPTURE", defaults.CapturePath), "RX capture output path")
	fs.StringVar(&cfg.captureFormat, "capture-format", envString(lookup, "RADAR_CAPTURE_FORMAT", defaults.CaptureFormat), "Capture format (raw|parquet|memory)")
	fs.StringVar(&cfg.dbPath, "db", envString(lookup, "RADAR_DB", defaults.DBPath), "Session history database, empty to disable")
	fs.StringVar(&cfg.webAddr, "web-addr", envString(lookup, "RADAR_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.BoolVar(&cfg.advertise, "advertise", envBool(lookup, "RADAR_ADVERTISE", defaults.Advertise), "Advertise the telemetry endpoint over mDNS")
	fs.IntVar(&cfg.historyLimit, "history-limit", envInt(lookup, "RADAR_HISTORY_LIMIT", defaults.HistoryLimit), "Maximum progress events kept for telemetry")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "RADAR_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "RADAR_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	fs.IntVar(&cfg.logEvery, "log-every", envInt(lookup, "RADAR_LOG_EVERY", defaults.LogEvery), "Log progress every N completions at debug level")
	fs.BoolVar(&cfg.color, "color", envBool(lookup, "RADAR_COLOR", defaults.Color), "Colour the step verdicts")
	fs.BoolVar(&cfg.lockMemory, "lock-memory", envBool(lookup, "RADAR_LOCK_MEMORY", defaults.LockMemory), "Lock buffer pools into RAM")

	fs.StringVar(&cfg.waveform, "waveform", envString(lookup, "RADAR_WAVEFORM", defaults.Waveform), "TX waveform (pulse|multipulse|fullscale|goldcode)")
	fs.IntVar(&cfg.prn, "prn", envInt(lookup, "RADAR_PRN", defaults.PRN), "Gold code PRN for the goldcode waveform")
	fs.IntVar(&cfg.samplesPerChip, "samples-per-chip", envInt(lookup, "RADAR_SAMPLES_PER_CHIP", defaults.SamplesPerChip), "Samples per gold code chip")
	fs.IntVar(&cfg.amplitude, "amplitude", envInt(lookup, "RADAR_AMPLITUDE", defaults.Amplitude), "TX amplitude in LSB")

	fs.Uint64Var(&cfg.txFreq, "tx-freq", envUint(lookup, "RADAR_TX_FREQ", defaults.TXFreq), "TX frequency in Hz")
	fs.Uint64Var(&cfg.rxFreq, "rx-freq", envUint(lookup, "RADAR_RX_FREQ", defaults.RXFreq), "RX frequency in Hz")
	fs.Uint64Var(&cfg.txBW, "tx-bw", envUint(lookup, "RADAR_TX_BW", defaults.TXBW), "TX bandwidth in Hz")
	fs.Uint64Var(&cfg.rxBW, "rx-bw", envUint(lookup, "RADAR_RX_BW", defaults.RXBW), "RX bandwidth in Hz")
	fs.Uint64Var(&cfg.txSR, "tx-sr", envUint(lookup, "RADAR_TX_SR", defaults.TXSR), "TX sample rate in sps")
	fs.Uint64Var(&cfg.rxSR, "rx-sr", envUint(lookup, "RADAR_RX_SR", defaults.RXSR), "RX sample rate in sps")
	fs.IntVar(&cfg.txVGA1, "txvga1", envInt(lookup, "RADAR_TXVGA1", defaults.TXVGA1), "TXVGA1 gain (dB)")
	fs.IntVar(&cfg.txVGA2, "txvga2", envInt(lookup, "RADAR_TXVGA2", defaults.TXVGA2), "TXVGA2 gain (dB)")
	fs.IntVar(&cfg.rxVGA1, "rxvga1", envInt(lookup, "RADAR_RXVGA1", defaults.RXVGA1), "RXVGA1 gain (dB)")
	fs.IntVar(&cfg.rxVGA2, "rxvga2", envInt(lookup, "RADAR_RXVGA2", defaults.RXVGA2), "RXVGA2 gain (dB)")
	fs.IntVar(&cfg.lna, "lna", envInt(lookup, "RADAR_LNA", defaults.LNA), "LNA gain (1 bypass, 2 mid, 3 max)")

	fs.BoolVar(&cfg.loopback, "sim-loopback", envBool(lookup, "RADAR_SIM_LOOPBACK", defaults.Loopback), "Simulated backend: loop TX into RX")
	fs.IntVar(&cfg.echoDelay, "sim-echo-delay", envInt(lookup, "RADAR_SIM_ECHO_DELAY", defaults.EchoDelay), "Simulated backend: echo delay in samples")
	fs.IntVar(&cfg.echoShift, "sim-echo-shift", envInt(lookup, "RADAR_SIM_ECHO_SHIFT", defaults.EchoShift), "Simulated backend: echo attenuation in bits")
	fs.IntVar(&cfg.noise, "sim-noise", envInt(lookup, "RADAR_SIM_NOISE", defaults.Noise), "Simulated backend: peak noise in LSB")
	fs.BoolVar(&cfg.pace, "sim-pace", envBool(lookup, "RADAR_SIM_PACE", defaults.Pace), "Simulated backend: stream at the real sample rate")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	// A bare "q" argument selects quick mode as well.
	if arg := fs.Arg(0); arg != "" && arg[0] == 'q' {
		cfg.quick = true
	}
	cfg.usbTimeout = time.Duration(usbTimeoutMS) * time.Millisecond
	return cfg, nil
}

func (cfg cliConfig) record() config.Record {
	return config.Record{
		TXFreq: cfg.txFreq,
		RXFreq: cfg.rxFreq,
		TXBW:   cfg.txBW,
		RXBW:   cfg.rxBW,
		TXSR:   cfg.txSR,
		RXSR:   cfg.rxSR,
		TXVGA1: cfg.txVGA1,
		TXVGA2: cfg.txVGA2,
		RXVGA1: cfg.rxVGA1,
		RXVGA2: cfg.rxVGA2,
		LNA:    cfg.lna,
	}
}

func (cfg cliConfig) appConfig() (app.Config, error) {
	if cfg.amplitude < -2048 || cfg.amplitude > 2047 {
		return app.Config{}, fmt.Errorf("amplitude %d outside 12-bit range", cfg.amplitude)
	}
	w, err := stream.ParseWaveform(cfg.waveform, cfg.prn, cfg.samplesPerChip, int16(cfg.amplitude))
	if err != nil {
		return app.Config{}, err
	}
	out := app.DefaultConfig()
	out.Record = cfg.record()
	out.RecordPath = cfg.recordPath
	out.Quick = cfg.quick
	out.Backend = cfg.backend
	out.CapturePath = cfg.capturePath
	out.CaptureFormat = cfg.captureFormat
	out.Waveform = w
	out.LockMemory = cfg.lockMemory
	return out, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Backend:        cfg.backend,
		USBSerial:      cfg.usbSerial,
		USBTimeoutMS:   int(cfg.usbTimeout / time.Millisecond),
		RecordPath:     cfg.recordPath,
		CapturePath:    cfg.capturePath,
		CaptureFormat:  cfg.captureFormat,
		DBPath:         cfg.dbPath,
		WebAddr:        cfg.webAddr,
		Advertise:      cfg.advertise,
		HistoryLimit:   cfg.historyLimit,
		LogLevel:       cfg.logLevel,
		LogFormat:      cfg.logFormat,
		LogEvery:       cfg.logEvery,
		Color:          cfg.color,
		LockMemory:     cfg.lockMemory,
		Waveform:       cfg.waveform,
		PRN:            cfg.prn,
		SamplesPerChip: cfg.samplesPerChip,
		Amplitude:      cfg.amplitude,
		TXFreq:         cfg.txFreq,
		RXFreq:         cfg.rxFreq,
		TXBW:           cfg.txBW,
		RXBW:           cfg.rxBW,
		TXSR:           cfg.txSR,
		RXSR:           cfg.rxSR,
		TXVGA1:         cfg.txVGA1,
		TXVGA2:         cfg.txVGA2,
		RXVGA1:         cfg.rxVGA1,
		RXVGA2:         cfg.rxVGA2,
		LNA:            cfg.lna,
		Loopback:       cfg.loopback,
		EchoDelay:      cfg.echoDelay,
		EchoShift:      cfg.echoShift,
		Noise:          cfg.noise,
		Pace:           cfg.pace,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	rec := config.Default()
	return persistentConfig{
		Backend:        "sim",
		USBTimeoutMS:   1000,
		RecordPath:     config.DefaultPath,
		CapturePath:    app.DefaultCapturePath,
		CaptureFormat:  capture.FormatRaw,
		DBPath:         "duplexradar.db",
		WebAddr:        "",
		HistoryLimit:   500,
		LogLevel:       "info",
		LogFormat:      "text",
		LogEvery:       16,
		Color:          true,
		Waveform:       "pulse",
		PRN:            1,
		SamplesPerChip: 1,
		Amplitude:      int(stream.DefaultAmplitude),
		TXFreq:         rec.TXFreq,
		RXFreq:         rec.RXFreq,
		TXBW:           rec.TXBW,
		RXBW:           rec.RXBW,
		TXSR:           rec.TXSR,
		RXSR:           rec.RXSR,
		TXVGA1:         rec.TXVGA1,
		TXVGA2:         rec.TXVGA2,
		RXVGA1:         rec.RXVGA1,
		RXVGA2:         rec.RXVGA2,
		LNA:            rec.LNA,
		Loopback:       true,
		EchoDelay:      100,
		EchoShift:      1,
		Noise:          8,
	}
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envUint(lookup func(string) (string, bool), key string, def uint64) uint64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseUint(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func selectBackend(cfg cliConfig) (sdr.Device, error) {
	switch cfg.backend {
	case "sim":
		return sdr.NewSim(sdr.SimConfig{
			Loopback:  cfg.loopback,
			EchoDelay: cfg.echoDelay,
			EchoShift: uint(max(cfg.echoShift, 0)),
			Noise:     int16(min(max(cfg.noise, 0), 2047)),
			Seed:      time.Now().UnixNano(),
			Pace:      cfg.pace,
		}), nil
	case "usb":
		return usb.New(usb.Config{Serial: cfg.usbSerial, Timeout: cfg.usbTimeout}), nil
	default:
		return nil, fmt.Errorf("unknown backend %s", cfg.backend)
	}
}
