// Package serverconf is the typed accessor over the named
// configuration surface of §6: no particular file format is assumed,
// callers populate a map[string]string (from flags, a toml/ini file,
// environment, whatever) and serverconf validates and exposes it.
// Grounded on teacher's `cfg.IntValue`/`cfg.BoolValue` call sites in
// `cmd/grumble/client.go`.
package serverconf

import (
	"fmt"
	"regexp"
	"strconv"
)

// Config is a validated, typed view over a raw key/value map.
type Config struct {
	raw map[string]string

	usernameRegex   *regexp.Regexp
	channelNameRegex *regexp.Regexp
}

// defaults mirrors the effective value every key in §6 has when
// absent from raw, so IntValue/BoolValue/StringValue never need a
// "missing key" error path.
var defaults = map[string]string{
	"server_id":                   "0",
	"name":                        "Grumble Cluster",
	"host":                        "",
	"port":                        "64738",
	"requireClientCert":           "false",
	"rejectUnauthorized":          "false",
	"registry.heartbeatInterval":  "10",
	"registry.timeout":            "30",
	"registry.maxEdges":           "0",
	"database.path":               "grumble.db",
	"database.backupDir":          "",
	"database.backupInterval":     "0",
	"database.walMode":            "true",
	"blobStore.enabled":           "false",
	"blobStore.path":              "",
	"timeout":                     "30",
	"maxUsers":                    "100",
	"maxUsersPerChannel":          "0",
	"channelNestingLimit":         "10",
	"bandwidth":                   "72000",
	"textMessageLength":           "5000",
	"imageMessageLength":          "131072",
	"messageLimit":                "1",
	"messageBurst":                "5",
	"pluginMessageLimit":          "0",
	"pluginMessageBurst":          "0",
	"allowHTML":                   "true",
	"defaultChannel":              "0",
	"rememberChannel":             "true",
	"rememberChannelDuration":     "0",
	"listenersPerChannel":         "0",
	"listenersPerUser":            "0",
	"usernameRegex":               `^[-=\w\[\]{}()+<>!'"` + "`" + `@#$%^&*|\\,.?~ ]+$`,
	"channelNameRegex":            `^[-=\w\[\]{}()+<>!'"` + "`" + `@#$%^&*|\\,.?~ ]+$`,
	"autoBan.attempts":            "10",
	"autoBan.timeframe":           "120",
	"autoBan.duration":            "300",
	"autoBan.banSuccessfulConnections": "false",
	"suggest.version":             "",
	"suggest.positional":          "",
	"suggest.pushToTalk":          "",
	"kdfIterations":               "-1",
	"channelNinja":                "false",
}

// New validates raw against §6's constraints (port range, non-negative
// intervals, compilable regexes) and returns a ready-to-use Config.
func New(raw map[string]string) (*Config, error) {
	c := &Config{raw: raw}

	if p := c.IntValue("port"); p < 1 || p > 65535 {
		return nil, fmt.Errorf("serverconf: port %d out of range [1,65535]", p)
	}
	for _, key := range []string{"registry.heartbeatInterval", "registry.timeout", "timeout",
		"database.backupInterval", "autoBan.timeframe"} {
		if v := c.IntValue(key); v < 0 {
			return nil, fmt.Errorf("serverconf: %s must be >= 0, got %d", key, v)
		}
	}
	if c.IntValue("maxUsers") < 1 {
		return nil, fmt.Errorf("serverconf: maxUsers must be >= 1")
	}
	if c.IntValue("channelNestingLimit") < 1 {
		return nil, fmt.Errorf("serverconf: channelNestingLimit must be >= 1")
	}
	if c.IntValue("bandwidth") <= 0 {
		return nil, fmt.Errorf("serverconf: bandwidth must be > 0")
	}
	if c.IntValue("autoBan.attempts") < 1 {
		return nil, fmt.Errorf("serverconf: autoBan.attempts must be >= 1")
	}
	if it := c.IntValue("kdfIterations"); it <= 0 && it != -1 {
		return nil, fmt.Errorf("serverconf: kdfIterations must be > 0 or -1")
	}
	if c.BoolValue("blobStore.enabled") && c.StringValue("blobStore.path") == "" {
		return nil, fmt.Errorf("serverconf: blobStore.path required when blobStore.enabled")
	}

	var err error
	c.usernameRegex, err = regexp.Compile(c.StringValue("usernameRegex"))
	if err != nil {
		return nil, fmt.Errorf("serverconf: usernameRegex: %w", err)
	}
	c.channelNameRegex, err = regexp.Compile(c.StringValue("channelNameRegex"))
	if err != nil {
		return nil, fmt.Errorf("serverconf: channelNameRegex: %w", err)
	}

	return c, nil
}

func (c *Config) lookup(key string) (string, bool) {
	if v, ok := c.raw[key]; ok {
		return v, true
	}
	v, ok := defaults[key]
	return v, ok
}

// StringValue returns the raw string value for key, or "" if unknown.
func (c *Config) StringValue(key string) string {
	v, _ := c.lookup(key)
	return v
}

// IntValue parses key as an integer, returning 0 if it is missing or
// unparseable.
func (c *Config) IntValue(key string) int {
	v, ok := c.lookup(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// BoolValue parses key as a boolean, returning false if missing or
// unparseable.
func (c *Config) BoolValue(key string) bool {
	v, ok := c.lookup(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// UsernameRegex returns the compiled usernameRegex pattern.
func (c *Config) UsernameRegex() *regexp.Regexp {
	return c.usernameRegex
}

// ChannelNameRegex returns the compiled channelNameRegex pattern.
func (c *Config) ChannelNameRegex() *regexp.Regexp {
	return c.channelNameRegex
}
