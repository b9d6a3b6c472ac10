package util

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const Name = "kbin"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type Conf struct {
	Host             string `yaml:"host" envconfig:"HOST"`
	HttpPort         int    `yaml:"httpPort" envconfig:"HTTP_PORT"`
	Domain           string `yaml:"domain" envconfig:"DOMAIN"`
	DbPath           string `yaml:"dbPath" envconfig:"DB_PATH"`
	DefaultMagazine  string `yaml:"defaultMagazine" envconfig:"DEFAULT_MAGAZINE"`
	WithFederation   bool   `yaml:"withFederation" envconfig:"WITH_FEDERATION"`
	VerifySignatures bool   `yaml:"verifySignatures" envconfig:"VERIFY_SIGNATURES"`
	Workers          int    `yaml:"workers" envconfig:"WORKERS"`
	Debug            bool   `yaml:"debug" envconfig:"DEBUG"`
}

// BaseURL returns the https origin remote servers address this instance by.
func (c Conf) BaseURL() string {
	return fmt.Sprintf("https://%s", c.Domain)
}

type AppConfig struct {
	Conf Conf `yaml:"conf"`
}

// ReadConf loads the yaml config (falling back to the embedded default) and
// applies KBIN_* environment overrides on top.
func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	buf, err := os.ReadFile(ConfigFileName)
	if err != nil {
		buf = embeddedConfig
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := envconfig.Process(Name, &c.Conf); err != nil {
		return nil, fmt.Errorf("in environment: %w", err)
	}

	if c.Conf.Workers <= 0 {
		c.Conf.Workers = 4
	}
	if c.Conf.DefaultMagazine == "" {
		c.Conf.DefaultMagazine = "random"
	}
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "database.db"
	}

	return c, nil
}
