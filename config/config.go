// Package config 为 gatekeeper 提供统一的配置管理能力，基于 Viper 实现。
//
// 特性：
//   - 多源配置加载：YAML/JSON 文件、环境变量、.env 文件
//   - 配置优先级：环境变量 > .env > 环境特定配置 > 基础配置
//   - 热更新：监听配置文件变化，按 key 推送变更事件（网关用它热加载路由规则）
//
// 基本使用：
//
//	loader := config.MustLoad(&config.Config{Name: "gateway", Paths: []string{"./config"}})
//
//	var cfg gateway.Config
//	if err := loader.Unmarshal(&cfg); err != nil {
//		panic(err)
//	}
//
//	ch, _ := loader.Watch(ctx, "gateway.rules")
//	for event := range ch {
//		// 重新构建 policy
//	}
package config

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// DefaultEnvPrefix 默认环境变量前缀
const DefaultEnvPrefix = "GATEKEEPER"

// Loader 定义配置加载器的核心行为
type Loader interface {
	// Load 加载配置并启动文件监听
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听指定 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名）
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型，默认 yaml
	EnvPrefix string   // 环境变量前缀，默认 GATEKEEPER
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "config"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = DefaultEnvPrefix
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

func (c *Config) validate() error {
	switch c.FileType {
	case "yaml", "yml", "json", "toml":
		return nil
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "config: unsupported file type %q", c.FileType)
	}
}

// Option 加载器选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 注入日志记录器，加载器会追加 "config" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o), nil
}

// MustLoad 创建并加载配置，失败时 panic。仅用于 main 函数初始化。
func MustLoad(cfg *Config, opts ...Option) Loader {
	l := xerrors.Must(New(cfg, opts...))
	if err := l.Load(context.Background()); err != nil {
		panic(err)
	}
	return l
}
