package config

// HTTPConfig configures the frontend/backend/send HTTP listeners.
type HTTPConfig struct {
	FrontendAddr string `yaml:"frontend_addr"`
	BackendAddr  string `yaml:"backend_addr"`
	SendAddr     string `yaml:"send_addr"`
	PidFile      string `yaml:"pid_file"`
}

// DefaultHTTPConfig returns the broker's default ports: frontend 8445,
// backend 8444, send 8446.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		FrontendAddr: "127.0.0.1:8445",
		BackendAddr:  "127.0.0.1:8444",
		SendAddr:     "127.0.0.1:8446",
		PidFile:      "/tmp/io-mcp.pid",
	}
}
