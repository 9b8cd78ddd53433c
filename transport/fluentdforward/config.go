package fluentdforward

// Config configures a Transporter connecting to a single fluentd (or fluentd-forward compatible)
// upstream over the Forward protocol's PackedForward mode.
type Config struct {
	Address        string `yaml:"address"`
	TLS            bool   `yaml:"tls"`
	Secret         string `yaml:"sharedKey"`
	UseCompression bool   `yaml:"useCompression"`
}

// VerifyConfig checks Config for obvious misconfiguration
func (cfg *Config) VerifyConfig() error {
	if cfg.Address == "" {
		return errRequiredAddress
	}
	return nil
}
