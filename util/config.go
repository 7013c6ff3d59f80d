package util

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const Name = "agora"
const ConfigFileName = "config.yaml"

// DefaultFetchLimit bounds the remote fetches a single inbound request may trigger
const DefaultFetchLimit = 25

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host             string   `yaml:"host" toml:"host"`
		HttpPort         int      `yaml:"httpPort" toml:"httpPort"`
		SslDomain        string   `yaml:"sslDomain" toml:"sslDomain"`
		WithAp           bool     `yaml:"withAp" toml:"withAp"`
		DatabasePath     string   `yaml:"databasePath" toml:"databasePath"`
		FetchLimit       int      `yaml:"fetchLimit" toml:"fetchLimit"`
		BlockedInstances []string `yaml:"blockedInstances" toml:"blockedInstances"`
		LogLevel         string   `yaml:"logLevel" toml:"logLevel"`
	} `yaml:"conf" toml:"conf"`
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	configPath := os.Getenv("AGORA_CONFIG")
	if configPath == "" {
		// Try to resolve config file path (local first, then user dir)
		configPath = ResolveFilePath(ConfigFileName)
	}

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Infof("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig
		configPath = ConfigFileName
		writeDefaultConfig()
	}

	if err := parseConfig(configPath, buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnv(c)
	applyDefaults(c)

	return c, nil
}

func parseConfig(path string, buf []byte, c *AppConfig) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(buf), c)
		return err
	}
	return yaml.Unmarshal(buf, c)
}

func writeDefaultConfig() {
	configDir, err := GetConfigDir()
	if err != nil {
		return
	}
	userConfigPath := filepath.Join(configDir, ConfigFileName)
	if err := os.WriteFile(userConfigPath, embeddedConfig, 0644); err != nil {
		log.Warnf("Could not write default config to %s: %v", userConfigPath, err)
	} else {
		log.Infof("Created default config file at %s", userConfigPath)
	}
}

func applyEnv(c *AppConfig) {
	if v := os.Getenv("AGORA_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("AGORA_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("Ignoring AGORA_HTTPPORT: %v", err)
		} else {
			c.Conf.HttpPort = port
		}
	}

	if v := os.Getenv("AGORA_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}

	if os.Getenv("AGORA_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}

	if v := os.Getenv("AGORA_DATABASE"); v != "" {
		c.Conf.DatabasePath = v
	}

	if v := os.Getenv("AGORA_FETCH_LIMIT"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("Ignoring AGORA_FETCH_LIMIT: %v", err)
		} else {
			c.Conf.FetchLimit = limit
		}
	}

	if v := os.Getenv("AGORA_BLOCKED_INSTANCES"); v != "" {
		c.Conf.BlockedInstances = strings.Split(v, ",")
	}

	if v := os.Getenv("AGORA_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}
}

func applyDefaults(c *AppConfig) {
	if c.Conf.FetchLimit <= 0 {
		c.Conf.FetchLimit = DefaultFetchLimit
	}
	if c.Conf.DatabasePath == "" {
		c.Conf.DatabasePath = "database.db"
	}
	if c.Conf.HttpPort == 0 {
		c.Conf.HttpPort = 9999
	}
	if c.Conf.LogLevel == "" {
		c.Conf.LogLevel = "info"
	}
}

// IsBlocked reports whether host is listed in blockedInstances
func (c *AppConfig) IsBlocked(host string) bool {
	for _, blocked := range c.Conf.BlockedInstances {
		if strings.EqualFold(strings.TrimSpace(blocked), host) {
			return true
		}
	}
	return false
}

// ConfigureLogging sets the level of the package level logger
func ConfigureLogging(c *AppConfig) {
	level, err := log.ParseLevel(c.Conf.LogLevel)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", c.Conf.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)
	log.SetPrefix(Name)
}
