package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type StreamMode string

const (
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	HardcodedVersion    string     = "V0.3"
)

const (
	FrameSourceDir      = "dir"
	FrameSourceSnapshot = "snapshot"

	RestartModeExit    = "exit"
	RestartModeCommand = "command"
)

type Config struct {
	AgentVersion    string        `mapstructure:"-"`
	LoopInterval    time.Duration `mapstructure:"loop_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Device struct {
		IDPrefix  string `mapstructure:"id_prefix"`
		Interface string `mapstructure:"interface"`
		LEDPath   string `mapstructure:"led_path"`
	} `mapstructure:"device"`

	Link struct {
		CheckInterval     time.Duration `mapstructure:"check_interval"`
		MaxOutage         time.Duration `mapstructure:"max_outage"`
		StartupTimeout    time.Duration `mapstructure:"startup_timeout"`
		StartupPoll       time.Duration `mapstructure:"startup_poll"`
		MinAttemptAge     time.Duration `mapstructure:"min_attempt_age"`
		ProbeAddr         string        `mapstructure:"probe_addr"`
		ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
		ConnectCommand    string        `mapstructure:"connect_command"`
		DisconnectCommand string        `mapstructure:"disconnect_command"`
		CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	} `mapstructure:"link"`

	Upload struct {
		Enabled  bool          `mapstructure:"enabled"`
		URL      string        `mapstructure:"url"`
		APIKey   string        `mapstructure:"api_key"`
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"upload"`

	Stream struct {
		Enabled           bool          `mapstructure:"enabled"`
		Mode              StreamMode    `mapstructure:"mode"`
		Host              string        `mapstructure:"host"`
		Port              int           `mapstructure:"port"`
		Path              string        `mapstructure:"path"`
		Secure            bool          `mapstructure:"secure"`
		APIKey            string        `mapstructure:"api_key"`
		FrameInterval     time.Duration `mapstructure:"frame_interval"`
		ReconnectCooldown time.Duration `mapstructure:"reconnect_cooldown"`
		DialTimeout       time.Duration `mapstructure:"dial_timeout"`
		WriteTimeout      time.Duration `mapstructure:"write_timeout"`
		PingInterval      time.Duration `mapstructure:"ping_interval"`
		GRPCAddr          string        `mapstructure:"grpc_addr"`
		GRPCMethod        string        `mapstructure:"grpc_method"`
	} `mapstructure:"stream"`

	Frame struct {
		Source      string        `mapstructure:"source"`
		Dir         string        `mapstructure:"dir"`
		SnapshotURL string        `mapstructure:"snapshot_url"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"frame"`

	TLS struct {
		Enabled    bool   `mapstructure:"enabled"`
		SkipVerify bool   `mapstructure:"skip_verify"`
		CAPath     string `mapstructure:"ca_path"`
		CertPath   string `mapstructure:"cert_path"`
		KeyPath    string `mapstructure:"key_path"`
	} `mapstructure:"tls"`

	Restart struct {
		Mode    string `mapstructure:"mode"`
		Command string `mapstructure:"command"`
	} `mapstructure:"restart"`

	Status struct {
		ListenAddr      string `mapstructure:"listen_addr"`
		ProbeListenAddr string `mapstructure:"probe_listen_addr"`
	} `mapstructure:"status"`

	MQTT struct {
		Broker   string        `mapstructure:"broker"`
		Topic    string        `mapstructure:"topic"`
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"mqtt"`

	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("loop_interval", 50*time.Millisecond)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("device.id_prefix", "CAM")
	v.SetDefault("device.interface", "wlan0")
	v.SetDefault("device.led_path", "")

	v.SetDefault("link.check_interval", 5*time.Second)
	v.SetDefault("link.max_outage", 2*time.Minute)
	v.SetDefault("link.startup_timeout", 20*time.Second)
	v.SetDefault("link.startup_poll", 500*time.Millisecond)
	v.SetDefault("link.min_attempt_age", time.Duration(0))
	v.SetDefault("link.probe_addr", "1.1.1.1:53")
	v.SetDefault("link.probe_timeout", 2*time.Second)
	v.SetDefault("link.connect_command", "nmcli device connect wlan0")
	v.SetDefault("link.disconnect_command", "nmcli device disconnect wlan0")
	v.SetDefault("link.command_timeout", 3*time.Second)

	v.SetDefault("upload.enabled", true)
	v.SetDefault("upload.url", "http://127.0.0.1:8000/api/upload")
	v.SetDefault("upload.api_key", "")
	v.SetDefault("upload.interval", time.Duration(0))
	v.SetDefault("upload.timeout", 10*time.Second)

	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.mode", string(StreamModeWebSocket))
	v.SetDefault("stream.host", "127.0.0.1")
	v.SetDefault("stream.port", 8000)
	v.SetDefault("stream.path", "/ws/stream")
	v.SetDefault("stream.secure", false)
	v.SetDefault("stream.api_key", "")
	v.SetDefault("stream.frame_interval", 200*time.Millisecond)
	v.SetDefault("stream.reconnect_cooldown", 5*time.Second)
	v.SetDefault("stream.dial_timeout", 5*time.Second)
	v.SetDefault("stream.write_timeout", 3*time.Second)
	v.SetDefault("stream.ping_interval", 10*time.Second)
	v.SetDefault("stream.grpc_addr", "127.0.0.1:3001")
	v.SetDefault("stream.grpc_method", "/camlink.frames.v1.FrameService/StreamFrames")

	v.SetDefault("frame.source", FrameSourceDir)
	v.SetDefault("frame.dir", "/run/camlink/frames")
	v.SetDefault("frame.snapshot_url", "http://127.0.0.1:8080/capture")
	v.SetDefault("frame.timeout", 2*time.Second)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.skip_verify", false)
	v.SetDefault("tls.ca_path", "")
	v.SetDefault("tls.cert_path", "")
	v.SetDefault("tls.key_path", "")

	v.SetDefault("restart.mode", RestartModeExit)
	v.SetDefault("restart.command", "systemctl reboot")

	v.SetDefault("status.listen_addr", "0.0.0.0:8081")
	v.SetDefault("status.probe_listen_addr", "0.0.0.0:7443")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "camlink/status")
	v.SetDefault("mqtt.interval", 30*time.Second)
	v.SetDefault("mqtt.timeout", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads defaults, an optional YAML file and CAMLINK_* environment overrides.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CAMLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CAMLINK_CONFIG")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/camlink")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.AgentVersion = HardcodedVersion
	cfg.Stream.Mode = StreamMode(strings.ToLower(string(cfg.Stream.Mode)))
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if strings.TrimSpace(c.Device.IDPrefix) == "" {
		return errors.New("CAMLINK_DEVICE_ID_PREFIX is required")
	}
	if c.LoopInterval <= 0 {
		return errors.New("CAMLINK_LOOP_INTERVAL must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("CAMLINK_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.Link.CheckInterval <= 0 {
		return errors.New("CAMLINK_LINK_CHECK_INTERVAL must be > 0")
	}
	if c.Link.MaxOutage <= c.Link.CheckInterval {
		return errors.New("CAMLINK_LINK_MAX_OUTAGE must be greater than the check interval")
	}
	if c.Link.StartupTimeout <= 0 || c.Link.StartupPoll <= 0 {
		return errors.New("link startup timeout and poll must be > 0")
	}
	if c.Link.MinAttemptAge < 0 {
		return errors.New("CAMLINK_LINK_MIN_ATTEMPT_AGE must be >= 0")
	}
	if strings.TrimSpace(c.Link.ProbeAddr) == "" {
		return errors.New("CAMLINK_LINK_PROBE_ADDR is required")
	}
	if c.Link.ProbeTimeout <= 0 || c.Link.CommandTimeout <= 0 {
		return errors.New("link probe and command timeouts must be > 0")
	}
	if c.Upload.Enabled {
		if strings.TrimSpace(c.Upload.URL) == "" {
			return errors.New("CAMLINK_UPLOAD_URL is required when upload is enabled")
		}
		if c.Upload.Interval < 0 {
			return errors.New("CAMLINK_UPLOAD_INTERVAL must be >= 0")
		}
		if c.Upload.Timeout <= 0 {
			return errors.New("CAMLINK_UPLOAD_TIMEOUT must be > 0")
		}
	}
	if c.Stream.Enabled {
		switch c.Stream.Mode {
		case StreamModeGRPC, StreamModeWebSocket:
		default:
			return fmt.Errorf("unsupported stream mode %q", c.Stream.Mode)
		}
		if c.Stream.Mode == StreamModeWebSocket && strings.TrimSpace(c.Stream.Host) == "" {
			return errors.New("CAMLINK_STREAM_HOST is required for websocket mode")
		}
		if c.Stream.Mode == StreamModeWebSocket && (c.Stream.Port <= 0 || c.Stream.Port > 65535) {
			return fmt.Errorf("invalid stream port %d", c.Stream.Port)
		}
		if c.Stream.Mode == StreamModeGRPC {
			if strings.TrimSpace(c.Stream.GRPCAddr) == "" {
				return errors.New("CAMLINK_STREAM_GRPC_ADDR is required for grpc mode")
			}
			if strings.TrimSpace(c.Stream.GRPCMethod) == "" {
				return errors.New("CAMLINK_STREAM_GRPC_METHOD is required for grpc mode")
			}
		}
		if c.Stream.FrameInterval <= 0 {
			return errors.New("CAMLINK_STREAM_FRAME_INTERVAL must be > 0")
		}
		if c.Stream.ReconnectCooldown <= 0 {
			return errors.New("CAMLINK_STREAM_RECONNECT_COOLDOWN must be > 0")
		}
		if c.Stream.DialTimeout <= 0 || c.Stream.WriteTimeout <= 0 {
			return errors.New("stream dial and write timeouts must be > 0")
		}
	}
	switch c.Frame.Source {
	case FrameSourceDir:
		if strings.TrimSpace(c.Frame.Dir) == "" {
			return errors.New("CAMLINK_FRAME_DIR is required for dir source")
		}
	case FrameSourceSnapshot:
		if strings.TrimSpace(c.Frame.SnapshotURL) == "" {
			return errors.New("CAMLINK_FRAME_SNAPSHOT_URL is required for snapshot source")
		}
	default:
		return fmt.Errorf("unsupported frame source %q", c.Frame.Source)
	}
	switch c.Restart.Mode {
	case RestartModeExit:
	case RestartModeCommand:
		if strings.TrimSpace(c.Restart.Command) == "" {
			return errors.New("CAMLINK_RESTART_COMMAND is required for command mode")
		}
	default:
		return fmt.Errorf("unsupported restart mode %q", c.Restart.Mode)
	}
	if c.MQTT.Broker != "" && (c.MQTT.Interval <= 0 || c.MQTT.Timeout <= 0) {
		return errors.New("mqtt interval and timeout must be > 0")
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLS.SkipVerify}
	if c.TLS.CAPath != "" {
		caBytes, err := os.ReadFile(c.TLS.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLS.CertPath != "" || c.TLS.KeyPath != "" {
		if c.TLS.CertPath == "" || c.TLS.KeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLS.CertPath, c.TLS.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}
