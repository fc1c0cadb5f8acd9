package config

import (
	"encoding/json"
	"errors"
	"os"
)

type Config struct {
	Client struct {
		ConnectTimeout string `json:"connect_timeout"`
		QueryTimeout   string `json:"query_timeout"`
		Compression    bool   `json:"compression"`
	} `json:"client"`
	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
}

var config Config
var initialized = false

func defaults() {
	if config.Client.ConnectTimeout == "" {
		config.Client.ConnectTimeout = "10s"
	}
	if config.Client.QueryTimeout == "" {
		config.Client.QueryTimeout = "10s"
	}
	if config.AppName == "" {
		config.AppName = "docdb-client"
	}
}

func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		defaults()
		writer, _ := os.OpenFile("config.json", os.O_WRONLY|os.O_CREATE, 0777)
		data, _ := json.MarshalIndent(config, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	err = json.Unmarshal(bytes, &config)

	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	defaults()
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
