package config

import "time"

// Services is the optional file-based description of the queue-backed
// services reachable under a tenant path.
type Services struct {
	Services []Service `yaml:"services"`
}

type Service struct {
	Name    string        `yaml:"name"`
	Queue   string        `yaml:"queue,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}
