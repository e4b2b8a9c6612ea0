package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/legamerdc/evbase"
)

type demoConfig struct {
	Base  evbase.Config `yaml:"base"`
	Stdin stdinConfig   `yaml:"stdin"`
	Timer timerConfig   `yaml:"timer"`
	Echo  echoConfig    `yaml:"echo"`
}

type stdinConfig struct {
	Lines int `yaml:"lines"` // 读满多少次后退出
}

type timerConfig struct {
	Name     string  `yaml:"name"`
	Interval float64 `yaml:"interval"` // 秒
	Count    int     `yaml:"count"`
}

type echoConfig struct {
	Address     string        `yaml:"address"`
	ReusePort   bool          `yaml:"reuse_port"`
	Raw         bool          `yaml:"raw"`      // 原样回写字节，不分帧
	Compress    bool          `yaml:"compress"` // 回包使用 zstd
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

func defaultDemoConfig() demoConfig {
	return demoConfig{
		Base:  evbase.DefaultConfig(),
		Stdin: stdinConfig{Lines: 10},
		Timer: timerConfig{Name: "heartbeat", Interval: 1, Count: 5},
		Echo: echoConfig{
			Address:     "127.0.0.1:18888",
			IdleTimeout: time.Minute,
		},
	}
}

// loadConfig 在默认值之上叠加 yaml 文件，未知字段报错
func loadConfig(path string) (demoConfig, error) {
	cfg := defaultDemoConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
