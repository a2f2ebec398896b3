package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/gatekeeper/xerrors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestLoaderLoad 覆盖基础配置、环境特定配置、.env 与环境变量的优先级
func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "gateway.yaml"), `
gateway:
  addr: ":8090"
  upstream: "http://localhost:8080"
breaker:
  default:
    sliding_window_size: 10
`)
	writeFile(t, filepath.Join(dir, "gateway.dev.yaml"), `
breaker:
  default:
    sliding_window_size: 4
`)
	writeFile(t, filepath.Join(dir, ".env"), "GWTEST_LOG_LEVEL=debug\n")

	t.Setenv("GWTEST_ENV", "dev")
	t.Setenv("GWTEST_GATEWAY_ADDR", ":9999")

	loader, err := New(&Config{Name: "gateway", Paths: []string{dir}, EnvPrefix: "gwtest"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, ":9999", loader.Get("gateway.addr"), "环境变量应覆盖文件")
	assert.Equal(t, "http://localhost:8080", loader.Get("gateway.upstream"))
	assert.EqualValues(t, 4, loader.Get("breaker.default.sliding_window_size"), "环境特定配置应覆盖基础配置")
	assert.Equal(t, "debug", loader.Get("log.level"), ".env 应进入环境变量")

	var gw struct {
		Upstream string `mapstructure:"upstream"`
	}
	require.NoError(t, loader.UnmarshalKey("gateway", &gw))
	assert.Equal(t, "http://localhost:8080", gw.Upstream)
}

func TestLoaderEmptyConfig(t *testing.T) {
	loader, err := New(&Config{Name: "missing", Paths: []string{t.TempDir()}, EnvPrefix: "GWEMPTY"})
	require.NoError(t, err)

	err = loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, ErrValidationFailed))
}

func TestNewInvalidFileType(t *testing.T) {
	_, err := New(&Config{FileType: "ini"})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

func TestNewDefaults(t *testing.T) {
	cfg := &Config{}
	_, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "config", cfg.Name)
	assert.Equal(t, DefaultEnvPrefix, cfg.EnvPrefix)
	assert.Equal(t, "yaml", cfg.FileType)
}

func TestWatchEmptyKey(t *testing.T) {
	loader, err := New(nil)
	require.NoError(t, err)
	_, err = loader.Watch(context.Background(), "")
	assert.True(t, IsInvalidInput(err))
}

// TestWatch 修改文件后应收到变更事件，ctx 取消后通道关闭
func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "gateway:\n  rules:\n    - path: /api/**\n      access: authenticated\n")

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "GWWATCH"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "gateway.rules")
	require.NoError(t, err)

	writeFile(t, path, "gateway:\n  rules:\n    - path: /api/**\n      access: deny_all\n")

	select {
	case ev := <-ch:
		assert.Equal(t, "gateway.rules", ev.Key)
		assert.Equal(t, "file", ev.Source)
		assert.NotEqual(t, ev.OldValue, ev.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("未收到配置变更事件")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(xerrors.Wrap(xerrors.ErrNotFound, "missing")))
	assert.False(t, IsNotFound(xerrors.ErrInvalidInput))
}
