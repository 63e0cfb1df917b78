package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BrokerProfile is one broker entry in the YAML capability file.
type BrokerProfile struct {
	ID             string   `yaml:"id"`
	Type           string   `yaml:"type"`
	AssetClasses   []string `yaml:"asset_classes"`
	ExecutionSpeed int      `yaml:"execution_speed"`
	Commission     int      `yaml:"commission"`
	Reliability    int      `yaml:"reliability"`
}

// BrokerProfileFile is the top-level YAML structure.
type BrokerProfileFile struct {
	Brokers []BrokerProfile `yaml:"brokers"`
}

// LoadBrokerProfiles reads broker capability profiles from a YAML file.
func LoadBrokerProfiles(path string) ([]BrokerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBrokerProfiles(data)
}

// ParseBrokerProfiles decodes and validates profile YAML.
func ParseBrokerProfiles(data []byte) ([]BrokerProfile, error) {
	var file BrokerProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for i, b := range file.Brokers {
		if b.ID == "" {
			return nil, fmt.Errorf("broker profile %d: missing id", i)
		}
		for name, score := range map[string]int{
			"execution_speed": b.ExecutionSpeed,
			"commission":      b.Commission,
			"reliability":     b.Reliability,
		} {
			if score < 1 || score > 10 {
				return nil, fmt.Errorf("broker %s: %s must be within 1..10, got %d", b.ID, name, score)
			}
		}
	}
	return file.Brokers, nil
}
