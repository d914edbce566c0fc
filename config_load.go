package tokenguard

import "github.com/MrEthical07/tokenguard/internal/confloader"

// LoadConfig returns DefaultConfig overlaid with the YAML file at path (if
// non-empty) and TOKENGUARD_* environment variables, then validates it.
func LoadConfig(path string) (Config, error) {
	return LoadConfigOver(DefaultConfig(), path)
}

// LoadConfigOver is LoadConfig starting from base instead of the defaults.
// Sources override base field by field; a list such as Keys is replaced
// whole when a source sets it.
func LoadConfigOver(base Config, path string) (Config, error) {
	cfg := cloneConfig(base)
	loader := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := loader.Load(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
