/*
Package config reads typed settings out of decoded YAML or JSON documents.

Keys are dotted paths into nested sections, and every accessor takes the
default to use when the key is missing or has the wrong type:

	cfg, err := config.FromFile("reportd.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	cfg = cfg.WithEnv(map[string]string{"llm.api_key": "OPENAI_API_KEY"})

	model := cfg.String("llm.model", "gpt-4o-mini")
	timeout := cfg.Duration("tools.timeout", 60*time.Second)

Duration accepts time.ParseDuration strings or a number of seconds. Int
accepts floats only when they have no fractional part.

Config values are immutable; With and WithEnv return modified copies, so a
Config is safe for concurrent reads.
*/
package config
