package config

import (
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	IsDebug bool `yaml:"is_debug" env-default:"false"`
	Listen  struct {
		BindIP   string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env-default:"5000"`
		TLS      bool   `yaml:"tls_enabled" env-default:"false"`
		CertFile string `yaml:"cert_file" env-default:""`
		KeyFile  string `yaml:"key_file" env-default:""`
	} `yaml:"listen"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"localhost"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:""`
		Password string `yaml:"password" env-default:""`
		Database string `yaml:"database" env-default:"storepay"`
	} `yaml:"mongo"`
	Provider struct {
		ApiUrl           string `yaml:"api_url"`
		ApiToken         string `yaml:"api_token"`
		StatusEndpoint   string `yaml:"status_endpoint" env-default:"/v1/check_transaction_by_md5"`
		BulkEndpoint     string `yaml:"bulk_endpoint" env-default:"/v1/check_transaction_by_md5_list"`
		DeeplinkEndpoint string `yaml:"deeplink_endpoint" env-default:"/v1/generate_deeplink_by_qr"`
		CallbackUrl      string `yaml:"callback_url" env-default:""`
		AppName          string `yaml:"app_name" env-default:""`
		AppIconUrl       string `yaml:"app_icon_url" env-default:""`
	} `yaml:"provider"`
	Merchant struct {
		BankAccount  string `yaml:"bank_account"`
		Name         string `yaml:"name"`
		City         string `yaml:"city" env-default:"Phnom Penh"`
		CategoryCode string `yaml:"category_code" env-default:"5999"`
		CountryCode  string `yaml:"country_code" env-default:"KH"`
		Currency     string `yaml:"currency" env-default:"USD"`
	} `yaml:"merchant"`
	Payment struct {
		PollIntervalSec int `yaml:"poll_interval_sec" env-default:"5"`
		MaxAttempts     int `yaml:"max_attempts" env-default:"30"`
		ReconcileSec    int `yaml:"reconcile_sec" env-default:"300"`
	} `yaml:"payment"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		ApiKey  string `yaml:"api_key" env-default:""`
	} `yaml:"telegram"`
}

var instance *Config
var once sync.Once

func GetConfig() (*Config, error) {
	var err error
	once.Do(func() {
		log.Println("reading config")
		instance = &Config{}
		if err = cleanenv.ReadConfig("config.yml", instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			log.Println(desc)
			log.Println(err)
			instance = nil
		}
	})
	return instance, err
}
