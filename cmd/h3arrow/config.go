package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/VanDung-dev/H3Arrow-Engine/api"
	arrowipc "github.com/VanDung-dev/H3Arrow-Engine/arrow"
	"github.com/VanDung-dev/H3Arrow-Engine/engine"
)

// Cfg holds configuration gathered from flags, the environment (H3ARROW_*)
// and an optional config file.
var Cfg *viper.Viper

type option struct {
	name, usage string
	defaultVal  interface{}
	flagsets    []*pflag.FlagSet
}

func options() []option {
	def := api.DefaultServerConfig()
	return []option{
		{"config", "config file (TOML, YAML or JSON)", "", []*pflag.FlagSet{Root.PersistentFlags()}},
		{"log.level", "log level: debug, info, warn or error", "info", []*pflag.FlagSet{Root.PersistentFlags()}},
		{"log.format", "log format: text or json", "text", []*pflag.FlagSet{Root.PersistentFlags()}},
		{"server.address", "TCP listen address", def.Address, []*pflag.FlagSet{serveCmd.Flags()}},
		{"server.zmq", "ZeroMQ REP endpoint (empty disables)", def.ZmqEndpoint, []*pflag.FlagSet{serveCmd.Flags()}},
		{"server.grpc", "gRPC listen address (empty disables)", def.GrpcAddress, []*pflag.FlagSet{serveCmd.Flags()}},
		{"server.max_message_size", "largest request or response frame in bytes", api.MaxMessageSize, []*pflag.FlagSet{serveCmd.Flags()}},
		{"server.metrics", "metrics HTTP address (empty disables)", def.MetricsAddress, []*pflag.FlagSet{serveCmd.Flags()}},
		{"server.idle_timeout", "close idle TCP connections after this long", def.IdleTimeout.String(), []*pflag.FlagSet{serveCmd.Flags()}},
		{"auth.enabled", "require the token handshake", false, []*pflag.FlagSet{serveCmd.Flags()}},
		{"auth.token", "shared token (generated when empty)", "", []*pflag.FlagSet{serveCmd.Flags()}},
		{"engine.workers", "kernel worker goroutines (0 = GOMAXPROCS)", 0, []*pflag.FlagSet{serveCmd.Flags()}},
		{"engine.chunk_size", "rows per kernel task", engine.DefaultChunkSize, []*pflag.FlagSet{serveCmd.Flags()}},
		{"ipc.compression", "response compression: none, lz4 or zstd", "none", []*pflag.FlagSet{serveCmd.Flags()}},
		{"limits.max_output_cells", "largest estimated output of a children, uncompact or grid_disk request", api.DefaultMaxOutputCells, []*pflag.FlagSet{serveCmd.Flags()}},
	}
}

func init() {
	Cfg = viper.New()
	Cfg.SetEnvPrefix("H3ARROW")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, opt := range options() {
		set := opt.flagsets[0]
		switch v := opt.defaultVal.(type) {
		case string:
			set.String(opt.name, v, opt.usage)
		case bool:
			set.Bool(opt.name, v, opt.usage)
		case int:
			set.Int(opt.name, v, opt.usage)
		default:
			panic("invalid option type")
		}
		if err := Cfg.BindPFlag(opt.name, set.Lookup(opt.name)); err != nil {
			panic(err)
		}
	}
}

// setConfig reads the config file, if there is one, and configures logging.
func setConfig() error {
	if path := Cfg.GetString("config"); path != "" {
		Cfg.SetConfigFile(path)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("h3arrow: problem reading configuration file: %w", err)
		}
	}
	return configureLogger(logrus.StandardLogger(), Cfg)
}

func configureLogger(log *logrus.Logger, cfg *viper.Viper) error {
	level, err := logrus.ParseLevel(cfg.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("h3arrow: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch cfg.GetString("log.format") {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("h3arrow: unknown log format %q", cfg.GetString("log.format"))
	}
	return nil
}

// settings is the resolved configuration of the serve command.
type settings struct {
	Server      api.ServerConfig
	Workers     int
	ChunkSize   int
	Compression arrowipc.Compression
	MaxOutput   int
}

func loadSettings(cfg *viper.Viper) (settings, error) {
	var s settings

	idle, err := time.ParseDuration(cfg.GetString("server.idle_timeout"))
	if err != nil {
		return s, fmt.Errorf("h3arrow: server.idle_timeout: %w", err)
	}
	comp, err := arrowipc.ParseCompression(cfg.GetString("ipc.compression"))
	if err != nil {
		return s, fmt.Errorf("h3arrow: ipc.compression: %w", err)
	}

	s.Server = api.ServerConfig{
		Address:        cfg.GetString("server.address"),
		ZmqEndpoint:    cfg.GetString("server.zmq"),
		GrpcAddress:    cfg.GetString("server.grpc"),
		MaxMessageSize: cfg.GetInt("server.max_message_size"),
		MetricsAddress: cfg.GetString("server.metrics"),
		IdleTimeout:    idle,
		Auth: api.AuthConfig{
			Enabled: cfg.GetBool("auth.enabled"),
			Token:   cfg.GetString("auth.token"),
		},
	}
	s.Workers = cfg.GetInt("engine.workers")
	s.ChunkSize = cfg.GetInt("engine.chunk_size")
	s.Compression = comp
	s.MaxOutput = cfg.GetInt("limits.max_output_cells")
	return s, nil
}
