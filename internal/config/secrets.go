package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to print or log: every
// secret-bearing field is masked and shared slices are detached so the
// caller cannot mutate the original through the copy.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Scanner.Pairs = slices.Clone(cfg.Scanner.Pairs)
	out.Feed.Venues = slices.Clone(cfg.Feed.Venues)

	for _, field := range secretFields(&out) {
		if *field != "" {
			*field = redacted
		}
	}
	return out
}

// secretFields enumerates every field of cfg whose value must never reach
// logs or terminal output. New secrets get one line here.
func secretFields(cfg *Config) []*string {
	return []*string{
		&cfg.Wallet.PrivateKey,
		&cfg.Wallet.KeyPassword,
		&cfg.Postgres.DSN,
		&cfg.Postgres.Password,
		&cfg.Redis.Password,
		&cfg.S3.AccessKey,
		&cfg.S3.SecretKey,
		&cfg.Notify.TelegramToken,
		&cfg.Notify.DiscordWebhookURL,
	}
}
