package config

import "time"

// Client is what hrvctl needs to query a running store.
type Client struct {
	Base
	APIBaseURL string
	APIToken   string
	Timeout    time.Duration
}

func LoadClient() (Client, error) {
	base, err := loadBase()
	if err != nil {
		return Client{}, err
	}
	cfg := Client{
		Base:       base,
		APIBaseURL: envString("API_BASE_URL", "http://localhost:3000/api"),
		APIToken:   envString("API_TOKEN", ""),
	}
	if cfg.Timeout, err = envPositiveDuration("UPLOAD_TIMEOUT", 15*time.Second); err != nil {
		return Client{}, err
	}
	return cfg, nil
}
