package config

func NewDefaultServices() *Services {
	return &Services{
		Services: []Service{},
	}
}
