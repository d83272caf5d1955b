package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	InputFile    string  `yaml:"input_file"`
	InputFormat  string  `yaml:"input_format"`
	ReplayFile   string  `yaml:"replay_file"`
	ReplayFormat string  `yaml:"replay_format"`
	SampleRate   float64 `yaml:"sample_rate"`
	Frequency    float64 `yaml:"frequency"`

	RX    Endpoint `yaml:"rx"`
	TX    Endpoint `yaml:"tx"`
	Soapy struct {
		Args      map[string]string `yaml:"args"`
		ClockRate float64           `yaml:"clock_rate"`
	} `yaml:"soapy"`

	ChannelFilter struct {
		CutoffHz     float64 `yaml:"cutoff_hz"`
		TransitionHz float64 `yaml:"transition_hz"`
	} `yaml:"channel_filter"`

	Monitor bool   `yaml:"monitor"`
	Secret  string `yaml:"secret"`
	Seqno   string `yaml:"seqno"`

	API struct {
		Listen       string `yaml:"listen"`
		JWTSecret    string `yaml:"jwt_secret"`
		MDNS         bool   `yaml:"mdns"`
		InstanceName string `yaml:"instance_name"`
		History      int    `yaml:"history"`
	} `yaml:"api"`

	EventOutputs []OutputDestination `yaml:"event_outputs"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// Endpoint selects the driver for one direction of the radio.
type Endpoint struct {
	Driver    string `yaml:"driver"`
	Index     int    `yaml:"index"`
	Address   string `yaml:"address"`
	Subdevice string `yaml:"subdevice"`
	// Path is the capture written by the file tx driver.
	Path string `yaml:"path"`
}

type OutputDestination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

const (
	DriverSoapy  = "soapy"
	DriverHackRF = "hackrf"
	DriverRTLSDR = "rtlsdr"
	DriverRTLTCP = "rtltcp"
	DriverSim    = "sim"
	DriverFile   = "file"
)

var (
	rxDrivers = map[string]bool{DriverSoapy: true, DriverHackRF: true, DriverRTLSDR: true, DriverRTLTCP: true, DriverSim: true}
	txDrivers = map[string]bool{DriverSoapy: true, DriverHackRF: true, DriverSim: true, DriverFile: true}
)

func Default() Config {
	var c Config
	c.SampleRate = 250e3
	c.Frequency = 13.56e6
	c.InputFormat = "cf32"
	c.ReplayFormat = "cf32"
	c.RX.Driver = DriverSoapy
	c.TX.Driver = DriverSoapy
	c.Monitor = true
	c.Secret = "c504d891"
	c.Seqno = "00"
	c.API.InstanceName = "omnihack"
	c.API.History = 256
	c.Log.Level = "info"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 3
	return c
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	c := Default()
	contents, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("error unmarshaling yaml file %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive")
	}
	if c.Frequency <= 0 {
		return fmt.Errorf("frequency must be positive")
	}
	if c.InputFile == "" {
		if !rxDrivers[c.RX.Driver] {
			return fmt.Errorf("unknown rx driver %q", c.RX.Driver)
		}
		if !txDrivers[c.TX.Driver] {
			return fmt.Errorf("unknown tx driver %q", c.TX.Driver)
		}
		// one hackrf cannot receive and transmit at the same time
		if c.RX.Driver == DriverHackRF && c.TX.Driver == DriverHackRF {
			return fmt.Errorf("hackrf is half duplex; use it for rx or tx, not both")
		}
		if c.RX.Driver == DriverRTLTCP && c.RX.Address == "" {
			return fmt.Errorf("rtltcp driver needs rx.address")
		}
	}
	if c.TX.Driver == DriverFile && c.TX.Path == "" {
		return fmt.Errorf("file tx driver needs tx.path")
	}
	for _, dest := range c.EventOutputs {
		if dest.Host == "" || dest.Port <= 0 {
			return fmt.Errorf("invalid event output %s:%d", dest.Host, dest.Port)
		}
	}
	if c.API.JWTSecret != "" && c.API.Listen == "" {
		return fmt.Errorf("api.jwt_secret set without api.listen")
	}
	return nil
}
