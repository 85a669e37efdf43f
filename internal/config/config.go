// Package config 实现 evo 运行配置的加载
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// 常量定义
const (
	ConfigFileName = "evo.toml" // 配置文件名
)

// Config 运行配置
type Config struct {
	JIT   JITConfig   `toml:"jit"`
	Cache CacheConfig `toml:"cache"`
	VM    VMConfig    `toml:"vm"`
	Log   LogConfig   `toml:"log"`
}

// JITConfig JIT 编译配置
type JITConfig struct {
	// Enabled 是否启用 JIT；关闭时全部走解释器
	Enabled bool `toml:"enabled"`

	// OptLevel 优化级别（0 或 2）
	OptLevel int `toml:"opt_level"`

	// BufferSize 可执行缓冲区大小（字节）
	BufferSize int `toml:"buffer_size"`
}

// CacheConfig 编译缓存配置
type CacheConfig struct {
	// Enabled 是否启用编译缓存
	Enabled bool `toml:"enabled"`

	// MaxSize 缓存容量上限（字节）
	MaxSize int `toml:"max_size"`
}

// VMConfig 解释器配置
type VMConfig struct {
	// MaxInstructions 单次运行的指令数上限，防止失控循环
	MaxInstructions uint64 `toml:"max_instructions"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug / info / warn / error
	Level string `toml:"level"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		JIT: JITConfig{
			Enabled:    true,
			OptLevel:   2,
			BufferSize: 64 * 1024,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 16 * 1024 * 1024,
		},
		VM: VMConfig{
			MaxInstructions: 1_000_000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load 从文件加载配置
// 文件不存在时返回默认配置；存在但解析失败是错误。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Find 从指定路径向上查找配置文件
// 返回配置文件的完整路径，找不到则返回空字符串。
func Find(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}

	var dir string
	if info.IsDir() {
		dir = startPath
	} else {
		dir = filepath.Dir(startPath)
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
