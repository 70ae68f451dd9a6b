package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

// Cfg 运行时配置
//
// [runtime]
// base-dir          = /usr/local/xvm
// data-dir          = /var/lib/xvm
// strict-init       = true
// arena-chunk-size  = 65536
//
// [image]
// image-dir         = images
//
// [logs]
// log_error         = /var/log/xvm/error.log
// log_infos         = /var/log/xvm/xvm.log
// log_level         = info
type Cfg struct {
	Raw     *ini.File
	AppName string
	BaseDir string
	DataDir string

	// runtime
	StrictInit     bool `default:"true"`
	ArenaChunkSize int  `default:"65536"`

	// image
	ImageDir string `default:"images"`

	// compile
	InitTimeout         string `default:"30s"`
	InitTimeoutDuration time.Duration

	// logs
	LogError string `default:"logs/error.log"`
	LogInfos string `default:"logs/xvm.log"`
	LogLevel string `default:"info"`
}

// NewCfg 创建默认配置
func NewCfg() *Cfg {
	return &Cfg{
		AppName:             "xvm-runtime",
		StrictInit:          true,
		ArenaChunkSize:      64 * 1024,
		ImageDir:            "images",
		InitTimeout:         "30s",
		InitTimeoutDuration: 30 * time.Second,
		LogError:            "logs/error.log",
		LogInfos:            "logs/xvm.log",
		LogLevel:            "info",
	}
}

// Load 从ini文件加载配置，缺失项保留默认值
func (cfg *Cfg) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s not readable: %v", path, err)
	}

	raw, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %v", path, err)
	}
	cfg.Raw = raw

	rt := raw.Section("runtime")
	if key := rt.Key("base-dir"); key.String() != "" {
		cfg.BaseDir = key.String()
	}
	if key := rt.Key("data-dir"); key.String() != "" {
		cfg.DataDir = key.String()
	}
	if key := rt.Key("strict-init"); key.String() != "" {
		cfg.StrictInit = key.MustBool(true)
	}
	if key := rt.Key("arena-chunk-size"); key.String() != "" {
		cfg.ArenaChunkSize = key.MustInt(64 * 1024)
	}

	img := raw.Section("image")
	if key := img.Key("image-dir"); key.String() != "" {
		cfg.ImageDir = key.String()
	}

	compile := raw.Section("compile")
	if key := compile.Key("init-timeout"); key.String() != "" {
		cfg.InitTimeout = key.String()
		if d, err := time.ParseDuration(cfg.InitTimeout); err == nil {
			cfg.InitTimeoutDuration = d
		}
	}

	logs := raw.Section("logs")
	if key := logs.Key("log_error"); key.String() != "" {
		cfg.LogError = key.String()
	}
	if key := logs.Key("log_infos"); key.String() != "" {
		cfg.LogInfos = key.String()
	}
	if key := logs.Key("log_level"); key.String() != "" {
		cfg.LogLevel = key.String()
	}

	return nil
}
