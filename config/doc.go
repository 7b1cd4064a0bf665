// Package config provides configuration loading for the incident watcher.
//
// Configuration comes from JSON files loaded as layers over built-in
// defaults, with environment variable overrides applied last.
//
// Loading with layer merging:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/site.json") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Duration fields accept Go duration strings in JSON ("5s", "10m", "6h").
// The watched directories have no defaults and must be provided.
package config
