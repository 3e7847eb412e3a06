package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lk2023060901/csap/pkg/config"
	"github.com/spf13/pflag"
)

// DefaultEnvPrefix 环境变量前缀，CSAP_TARGET_HOST 对应 target.host
const DefaultEnvPrefix = "CSAP"

var (
	configPath string
	logPath    string
)

// LoadOptions LoadConfig 的选项
type LoadOptions struct {
	FlagSet   *pflag.FlagSet
	Args      []string
	EnvPrefix string
	Defaults  map[string]any
}

// LoadOption 定义 LoadConfig 选项
type LoadOption func(*LoadOptions)

// WithFlagSet 使用指定的 FlagSet 和参数，默认 pflag.CommandLine 与 os.Args[1:]
func WithFlagSet(fs *pflag.FlagSet, args []string) LoadOption {
	return func(o *LoadOptions) {
		o.FlagSet = fs
		o.Args = args
	}
}

// WithEnvPrefix 覆盖环境变量前缀
func WithEnvPrefix(prefix string) LoadOption {
	return func(o *LoadOptions) { o.EnvPrefix = prefix }
}

// WithDefaults 设置最低优先级的默认值
func WithDefaults(defaults map[string]any) LoadOption {
	return func(o *LoadOptions) { o.Defaults = defaults }
}

// LoadConfig 加载配置到 target
// 优先级：1. 命令行显式参数 > 2. 环境变量 > 3. 配置文件 > 4. 默认值
// 调用前注册到 FlagSet 的参数按 "-" -> "." 映射到配置键，如 --target-host 对应 target.host
func LoadConfig(target any, opts ...LoadOption) error {
	o := LoadOptions{
		FlagSet:   pflag.CommandLine,
		Args:      os.Args[1:],
		EnvPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	fs := o.FlagSet

	execDir, err := GetExecDir()
	if err != nil {
		return fmt.Errorf("failed to get executable directory: %w", err)
	}
	defaultConfig := filepath.Join(execDir, "config.yaml")

	if fs.Lookup("config") == nil {
		fs.StringVarP(&configPath, "config", "c", defaultConfig, "path to config file")
	}
	if fs.Lookup("log.path") == nil {
		fs.StringVar(&logPath, "log.path", "", "output path for logs, enables file logging")
	}
	if !fs.Parsed() {
		if err := fs.Parse(o.Args); err != nil {
			return err
		}
	}

	mgr := config.NewManager(config.WithDefaults(o.Defaults))
	mgr.BindEnv(o.EnvPrefix)

	// 配置文件路径：Flag 显式指定 > 环境变量 CSAP_CONFIG > 可执行文件目录下的 config.yaml
	path, _ := fs.GetString("config")
	explicit := fs.Changed("config")
	if !explicit {
		if envConfig := os.Getenv(o.EnvPrefix + "_CONFIG"); envConfig != "" {
			path, explicit = envConfig, true
		}
	}
	if _, err := os.Stat(path); err == nil {
		if err := mgr.LoadFile(path); err != nil {
			return err
		}
		configPath = path
	} else if explicit {
		return fmt.Errorf("%w: %s", config.ErrConfigFileNotFound, path)
	} else {
		configPath = ""
	}

	if err := mgr.BindFlags(fs, "config", "log.path"); err != nil {
		return err
	}

	if fs.Changed("log.path") {
		lp, _ := fs.GetString("log.path")
		mgr.Set("log.output_path", lp)
		mgr.Set("log.enable_file", true)
		if err := os.MkdirAll(filepath.Dir(lp), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		logPath = lp
	}

	if err := mgr.Unmarshal(target); err != nil {
		return err
	}
	return nil
}

// GetExecDir 获取可执行文件所在目录（处理符号链接）
func GetExecDir() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	realPath, err := filepath.EvalSymlinks(execPath)
	if err != nil {
		return filepath.Dir(execPath), nil
	}
	return filepath.Dir(realPath), nil
}

// GetConfigPath 返回最终使用的配置文件路径，未使用配置文件时为空
func GetConfigPath() string {
	return configPath
}

// GetLogPath 返回 --log.path 指定的日志路径
func GetLogPath() string {
	return logPath
}
