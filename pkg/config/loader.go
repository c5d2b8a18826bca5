package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// 只识别 ${NAME}，密码里单独出现的 $ 保持原样
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load 按层解码到 out：out 中已有的值作为默认值，
// 然后依次叠加 base.yaml 与 <env>.yaml（只覆盖文件里出现的字段）。
// 文件中的 ${NAME} 先查 secrets.env，再查进程环境变量；都没有时替换为空，
// 未加引号的空值按 null 处理，保留默认值
func Load(env, configDir string, out any) error {
	if configDir == "" {
		configDir = "config"
	}

	secrets, err := readSecrets(filepath.Join(configDir, "secrets.env"))
	if err != nil {
		return err
	}
	lookup := func(name string) string {
		if v, ok := secrets[name]; ok {
			return v
		}
		return os.Getenv(name)
	}

	layers := []string{"base"}
	if env != "" && env != "base" {
		layers = append(layers, env)
	}
	for i, layer := range layers {
		data, err := os.ReadFile(filepath.Join(configDir, layer+".yaml"))
		if errors.Is(err, fs.ErrNotExist) && i > 0 {
			continue // 环境文件可选
		}
		if err != nil {
			return fmt.Errorf("failed to load %s.yaml: %w", layer, err)
		}
		if err := decodeLayer(data, lookup, out); err != nil {
			return fmt.Errorf("failed to decode %s.yaml: %w", layer, err)
		}
	}
	return nil
}

func decodeLayer(data []byte, lookup func(string) string, out any) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Kind == 0 {
		return nil // 空文件
	}
	expandNode(&doc, lookup)
	return doc.Decode(out)
}

// expandNode 在解析后的标量上替换占位符，避免密钥中的特殊字符破坏 YAML 结构
func expandNode(n *yaml.Node, lookup func(string) string) {
	if n.Kind == yaml.ScalarNode && placeholder.MatchString(n.Value) {
		n.Value = placeholder.ReplaceAllStringFunc(n.Value, func(m string) string {
			return lookup(m[2 : len(m)-1])
		})
		if n.Style == 0 {
			n.Tag = "" // 未加引号的值按替换结果重新推断类型
		}
	}
	for _, c := range n.Content {
		expandNode(c, lookup)
	}
}

// readSecrets 解析 KEY=VALUE 行，忽略空行和 # 注释；文件不存在时返回空表
func readSecrets(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets.env: %w", err)
	}
	defer f.Close()

	secrets := make(map[string]string)
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("secrets.env:%d: expected KEY=VALUE", n)
		}
		secrets[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read secrets.env: %w", err)
	}
	return secrets, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
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
