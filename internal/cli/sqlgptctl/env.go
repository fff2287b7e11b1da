package sqlgptctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/sqlgpt/sqlgpt/internal/config"
)

// OptionsFromEnv reads SQLGPT_API_URL, SQLGPT_API_KEY and
// SQLGPT_CLI_TIMEOUT. Flags given on the command line still win.
func OptionsFromEnv(lookup config.LookupFunc) (Options, error) {
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}
	opts := Options{
		BaseURL: get("SQLGPT_API_URL"),
		APIKey:  get("SQLGPT_API_KEY"),
	}
	if raw := get("SQLGPT_CLI_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			return Options{}, fmt.Errorf("invalid SQLGPT_CLI_TIMEOUT %q", raw)
		}
		opts.Timeout = timeout
	}
	return opts, nil
}
