// Package confloader loads configuration with koanf.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. the target struct as passed in (defaults)
//  2. a YAML file
//  3. environment variables
//  4. maps loaded explicitly (flags, tests)
//
// Environment variables use a double underscore between sections so that
// single underscores stay inside key names:
//
//	TOKENGUARD_JWT__ACCESS_TTL=10m      -> jwt.access_ttl
//	TOKENGUARD_RATE_LIMIT__FAIL_OPEN=0  -> rate_limit.fail_open
//
// Watcher reports writes to a watched file so key material can be rotated
// without a restart.
package confloader
