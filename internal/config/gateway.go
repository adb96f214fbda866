package config

import (
	"fmt"
	"time"
)

const (
	SensorBLE       = "ble"
	SensorSimulated = "simulated"
)

type Gateway struct {
	Base
	HTTPAddr    string
	AutoConnect bool

	SensorMode     string
	BLEAdapter     string
	BLENamePrefix  string
	BLEScanTimeout time.Duration
	SimInterval    time.Duration
	SimDropAfter   int

	UserID        string
	APIBaseURL    string
	APIToken      string
	UploadTimeout time.Duration

	LiveCapacity      int
	Warmup            time.Duration
	UploadInterval    time.Duration
	FilterWindow      int
	FilterThresholdMS float64
	MinUploadSamples  int

	// MQTTBroker empty disables live publishing.
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
}

func LoadGateway() (Gateway, error) {
	base, err := loadBase()
	if err != nil {
		return Gateway{}, err
	}
	cfg := Gateway{
		Base:          base,
		HTTPAddr:      envString("HTTP_ADDR", ":8090"),
		BLEAdapter:    envString("BLE_ADAPTER", "hci0"),
		BLENamePrefix: envString("BLE_NAME_PREFIX", "Polar"),
		UserID:        envString("USER_ID", ""),
		APIBaseURL:    envString("API_BASE_URL", "http://localhost:3000/api"),
		APIToken:      envString("API_TOKEN", ""),
		MQTTBroker:    envString("MQTT_BROKER", ""),
		MQTTClientID:  envString("MQTT_CLIENT_ID", "mindmend-gateway"),
	}

	cfg.SensorMode = envString("SENSOR_MODE", SensorBLE)
	switch cfg.SensorMode {
	case SensorBLE, SensorSimulated:
	default:
		return Gateway{}, fmt.Errorf("invalid SENSOR_MODE %q (allowed: ble, simulated)", cfg.SensorMode)
	}
	if cfg.UserID == "" {
		return Gateway{}, fmt.Errorf("USER_ID is required")
	}

	if cfg.AutoConnect, err = envBool("AUTO_CONNECT", true); err != nil {
		return Gateway{}, err
	}
	if cfg.BLEScanTimeout, err = envPositiveDuration("BLE_SCAN_TIMEOUT", 30*time.Second); err != nil {
		return Gateway{}, err
	}
	if cfg.SimInterval, err = envPositiveDuration("SIM_INTERVAL", time.Second); err != nil {
		return Gateway{}, err
	}
	if cfg.SimDropAfter, err = envInt("SIM_DROP_AFTER", 0); err != nil {
		return Gateway{}, err
	}
	if cfg.UploadTimeout, err = envPositiveDuration("UPLOAD_TIMEOUT", 15*time.Second); err != nil {
		return Gateway{}, err
	}
	if cfg.LiveCapacity, err = envPositiveInt("LIVE_CAPACITY", 60); err != nil {
		return Gateway{}, err
	}
	if cfg.Warmup, err = envPositiveDuration("WARMUP", 3*time.Minute); err != nil {
		return Gateway{}, err
	}
	if cfg.UploadInterval, err = envPositiveDuration("UPLOAD_INTERVAL", 3*time.Minute); err != nil {
		return Gateway{}, err
	}
	if cfg.FilterWindow, err = envPositiveInt("FILTER_WINDOW", 5); err != nil {
		return Gateway{}, err
	}
	if cfg.FilterThresholdMS, err = envFloat("FILTER_THRESHOLD_MS", 150); err != nil {
		return Gateway{}, err
	}
	if cfg.FilterThresholdMS <= 0 {
		return Gateway{}, fmt.Errorf("FILTER_THRESHOLD_MS must be positive, got %v", cfg.FilterThresholdMS)
	}
	if cfg.MinUploadSamples, err = envPositiveInt("MIN_UPLOAD_SAMPLES", 10); err != nil {
		return Gateway{}, err
	}
	if cfg.MQTTPort, err = envInt("MQTT_PORT", 1883); err != nil {
		return Gateway{}, err
	}

	return cfg, nil
}
