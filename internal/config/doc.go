// Package config loads the authcored daemon configuration.
//
// Values are layered: built-in defaults, then the YAML file, then a .env
// file in the working directory, then AUTHCORE_* environment variables.
// The merged result is validated before it is returned.
//
//	cfg, err := config.Load("authcore.yaml")
//	if err != nil {
//		return err
//	}
//	engineCfg, err := cfg.Engine()
package config
