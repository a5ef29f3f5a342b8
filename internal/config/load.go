package config

import (
	"os"
)

func LoadServicesFromFile(path string) (*Services, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseServices(data)
}
