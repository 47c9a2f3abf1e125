package utils

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kr/pretty"
	"github.com/spf13/viper"

	"github.com/EasyDarwin/StreamStudio/log"
)

type BackendConf struct {
	Dir            string        `mapstructure:"dir"`
	Dev            bool          `mapstructure:"dev"`
	Autostart      bool          `mapstructure:"autostart"`
	Interpreters   []string      `mapstructure:"interpreters"`
	Module         string        `mapstructure:"module"`
	App            string        `mapstructure:"app"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	PathEnv        string        `mapstructure:"path_env"`
	ReadyMarker    string        `mapstructure:"ready_marker"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type APIConf struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Watch   bool          `mapstructure:"watch"`
}

type EncoderConf struct {
	Binary      string `mapstructure:"binary"`
	DownloadURL string `mapstructure:"download_url"`
}

type CaptureConf struct {
	Display          string `mapstructure:"display"`
	AudioDevice      string `mapstructure:"audio_device"`
	EchoCancelDevice string `mapstructure:"echo_cancel_device"`
	Audio            bool   `mapstructure:"audio"`
	Width            int    `mapstructure:"width"`
	Height           int    `mapstructure:"height"`
	FrameRate        int    `mapstructure:"frame_rate"`
	SampleRate       int    `mapstructure:"sample_rate"`
	PreviewDir       string `mapstructure:"preview_dir"`
	GlobalArgs       string `mapstructure:"global_args"`
}

type StreamConf struct {
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	FrameRate int `mapstructure:"frame_rate"`
	Bitrate   int `mapstructure:"bitrate"`
}

type HTTPConf struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Pprof   bool   `mapstructure:"pprof"`
}

type LogConf struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type ServiceConf struct {
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`
	Description string `mapstructure:"description"`
}

// Config is the whole application configuration. Twitch credentials are
// deliberately absent: they only live in memory.
type Config struct {
	Backend BackendConf `mapstructure:"backend"`
	API     APIConf     `mapstructure:"api"`
	Encoder EncoderConf `mapstructure:"encoder"`
	Capture CaptureConf `mapstructure:"capture"`
	Stream  StreamConf  `mapstructure:"stream"`
	HTTP    HTTPConf    `mapstructure:"http"`
	Log     LogConf     `mapstructure:"log"`
	Service ServiceConf `mapstructure:"service"`

	// File is the config file actually read, empty when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.dir", "")
	v.SetDefault("backend.dev", false)
	v.SetDefault("backend.autostart", true)
	v.SetDefault("backend.interpreters", []string{"python", "python3"})
	v.SetDefault("backend.module", "uvicorn")
	v.SetDefault("backend.app", "server:app")
	v.SetDefault("backend.host", "127.0.0.1")
	v.SetDefault("backend.port", 8001)
	v.SetDefault("backend.path_env", "PYTHONPATH")
	v.SetDefault("backend.ready_marker", "Uvicorn running on")
	v.SetDefault("backend.ready_timeout", "10s")
	v.SetDefault("backend.health_interval", "500ms")

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.watch", true)

	v.SetDefault("encoder.binary", "ffmpeg")
	v.SetDefault("encoder.download_url", "https://ffmpeg.org/download.html")

	v.SetDefault("capture.display", "")
	v.SetDefault("capture.audio_device", "")
	v.SetDefault("capture.echo_cancel_device", "")
	v.SetDefault("capture.audio", true)
	v.SetDefault("capture.width", 1920)
	v.SetDefault("capture.height", 1080)
	v.SetDefault("capture.frame_rate", 30)
	v.SetDefault("capture.sample_rate", 44100)
	v.SetDefault("capture.preview_dir", filepath.Join(os.TempDir(), "streamstudio", "preview"))
	v.SetDefault("capture.global_args", "-hide_banner -nostdin -nostats")

	v.SetDefault("stream.width", 1920)
	v.SetDefault("stream.height", 1080)
	v.SetDefault("stream.frame_rate", 30)
	v.SetDefault("stream.bitrate", 2500)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8002)
	v.SetDefault("http.pprof", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", filepath.Join(os.TempDir(), "streamstudio", "logs"))
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", false)

	v.SetDefault("service.name", "StreamStudio_Service")
	v.SetDefault("service.display_name", "StreamStudio Service")
	v.SetDefault("service.description", "Screen capture to Twitch streaming helper")
}

// LoadConfig reads the configuration from cfgFile, or from streamstudio.*
// in the working directory or next to the executable. A missing file is not
// an error; defaults and STREAMSTUDIO_* environment variables still apply.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("streamstudio")
		v.AddConfigPath(".")
		v.AddConfigPath(ExeDir())
	}

	v.SetEnvPrefix("STREAMSTUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.File = v.ConfigFileUsed()
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = BackendURL(cfg.Backend.Host, cfg.Backend.Port)
	}

	log.Debugf("Current configurations: \n%# v", pretty.Formatter(*cfg))
	return cfg, nil
}

func (c *Config) LogFile() log.FileConfig {
	return log.FileConfig{
		Dir:        c.Log.Dir,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
	}
}
