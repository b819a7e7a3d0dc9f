package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load 依次把 base.yaml 和 <env>.yaml 解码进 out，环境文件只覆盖它写出的字段，
// out 里预先填好的默认值保持不变。
// 字符串中的 ${VAR} 先查 secrets.env，再查系统环境变量，都没有时替换为空串
func Load(env, dir string, out any) error {
	if dir == "" {
		dir = "config"
	}

	secrets, err := loadEnvFile(filepath.Join(dir, "secrets.env"))
	if err != nil {
		return fmt.Errorf("failed to load secrets.env: %w", err)
	}
	lookup := func(key string) string {
		if v, ok := secrets[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	if err := decodeFile(filepath.Join(dir, "base.yaml"), lookup, out); err != nil {
		return fmt.Errorf("failed to load base.yaml: %w", err)
	}

	if env == "" || env == "base" {
		return nil
	}
	envFile := filepath.Join(dir, env+".yaml")
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}
	if err := decodeFile(envFile, lookup, out); err != nil {
		return fmt.Errorf("failed to load %s.yaml: %w", env, err)
	}
	return nil
}

func decodeFile(path string, lookup func(string) string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Kind == 0 {
		return nil
	}
	expandPlaceholders(&doc, lookup)
	return doc.Decode(out)
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// expandPlaceholders 只替换标量节点，替换结果不会再被当作 YAML 解析
func expandPlaceholders(n *yaml.Node, lookup func(string) string) {
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
		n.Value = placeholderPattern.ReplaceAllStringFunc(n.Value, func(m string) string {
			return lookup(m[2 : len(m)-1])
		})
	}
	for _, child := range n.Content {
		expandPlaceholders(child, lookup)
	}
}

// loadEnvFile 读取 KEY=VALUE 格式的 secrets 文件，文件不存在时返回空表
func loadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		env[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return env, nil
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（从环境变量 CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}

// GetConfigDir 获取配置目录（从环境变量 CONFIG_DIR，默认为 config）
func GetConfigDir() string {
	return GetEnv("CONFIG_DIR", "config")
}
