package main

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/horgh/config"
)

// LinkInfo is the configured connection information for one peer server,
// used both to authenticate an inbound SERVER command and to know the
// password to send on an outbound CONNECT.
type LinkInfo struct {
	Pass     string
	Hostname string
	Port     string
}

// Config holds a server's configuration.
type Config struct {
	ListenHost  string
	ListenPort  string
	ServerName  string
	ServerInfo  string
	Version     string
	CreatedDate string
	MOTD        string

	MaxNickLength int

	// Period of time to wait before waking server up (maximum).
	WakeupTime time.Duration

	// Period of time a client can be idle before we send it a PING.
	PingTime time.Duration

	// Period of time a client can be idle before we consider it dead.
	DeadTime time.Duration

	// Oper name to password.
	Opers map[string]string

	// TS6 SID. Must be unique in the network. Format: [0-9][A-Z0-9]{2}
	TS6SID string

	// Configured peer servers, by name, for SERVER command authentication and
	// outbound CONNECT.
	Servers map[string]LinkInfo

	// DCCKey is the pre-shared key used to derive the chacha20poly1305
	// cipher for DCC SEND chunk encryption. Zero value means no cipher is
	// built and Catbox.DCCCipher stays nil.
	DCCKey [32]byte

	// DCCDownloadsDirOverride, if set, replaces $HOME/dcc_downloads as the
	// directory completed DCC SEND transfers are written to.
	DCCDownloadsDirOverride string
}

// loadConfig reads and validates the configuration file at path, returning a
// populated Config.
func loadConfig(path string) (*Config, error) {
	configMap, err := config.ReadStringMap(path)
	if err != nil {
		return nil, err
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"version",
		"created-date",
		"motd",
		"max-nick-length",
		"wakeup-time",
		"ping-time",
		"dead-time",
		"opers-config",
		"ts6-sid",
	}

	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return nil, fmt.Errorf("missing required key: %s", key)
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("configuration value is blank: %s", key)
		}
	}

	cfg := &Config{}

	cfg.ListenHost = configMap["listen-host"]
	cfg.ListenPort = configMap["listen-port"]
	cfg.ServerName = configMap["server-name"]
	cfg.ServerInfo = configMap["server-info"]
	cfg.Version = configMap["version"]
	cfg.CreatedDate = configMap["created-date"]
	cfg.MOTD = configMap["motd"]

	nickLen64, err := strconv.ParseInt(configMap["max-nick-length"], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("max nick length is not valid: %s", err)
	}
	cfg.MaxNickLength = int(nickLen64)

	cfg.WakeupTime, err = time.ParseDuration(configMap["wakeup-time"])
	if err != nil {
		return nil, fmt.Errorf("wakeup time is in invalid format: %s", err)
	}

	cfg.PingTime, err = time.ParseDuration(configMap["ping-time"])
	if err != nil {
		return nil, fmt.Errorf("ping time is in invalid format: %s", err)
	}

	cfg.DeadTime, err = time.ParseDuration(configMap["dead-time"])
	if err != nil {
		return nil, fmt.Errorf("dead time is in invalid format: %s", err)
	}

	opers, err := config.ReadStringMap(configMap["opers-config"])
	if err != nil {
		return nil, fmt.Errorf("unable to load opers config: %s", err)
	}
	cfg.Opers = opers

	matched, err := regexp.MatchString("^[0-9][0-9A-Z]{2}$", configMap["ts6-sid"])
	if err != nil {
		return nil, fmt.Errorf("unable to validate ts6-sid: %s", err)
	}
	if !matched {
		return nil, fmt.Errorf("ts6-sid is in invalid format")
	}
	cfg.TS6SID = configMap["ts6-sid"]

	cfg.Servers = map[string]LinkInfo{}
	if serversFile, exists := configMap["servers-config"]; exists && len(serversFile) > 0 {
		serverLines, err := config.ReadStringMap(serversFile)
		if err != nil {
			return nil, fmt.Errorf("unable to load servers config: %s", err)
		}
		// Each line: <name> = <pass>,<hostname>,<port>
		for name, rest := range serverLines {
			var pass, hostname, port string
			_, err := fmt.Sscanf(rest, "%s", &pass)
			if err != nil {
				return nil, fmt.Errorf("invalid servers-config line for %s: %s", name, err)
			}
			parts := splitCommaTriple(rest)
			pass, hostname, port = parts[0], parts[1], parts[2]
			cfg.Servers[name] = LinkInfo{Pass: pass, Hostname: hostname, Port: port}
		}
	}

	if keyHex, exists := configMap["dcc-pre-shared-key"]; exists && len(keyHex) > 0 {
		raw, err := hex.DecodeString(keyHex)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("dcc-pre-shared-key must be 64 hex characters (32 bytes)")
		}
		copy(cfg.DCCKey[:], raw)
	}

	cfg.DCCDownloadsDirOverride = configMap["dcc-downloads-dir-override"]

	return cfg, nil
}

// splitCommaTriple splits "a,b,c" into exactly 3 elements, padding with
// empty strings if fewer are present.
func splitCommaTriple(s string) [3]string {
	var out [3]string
	i := 0
	start := 0
	for j := 0; j < len(s) && i < 3; j++ {
		if s[j] == ',' {
			out[i] = s[start:j]
			i++
			start = j + 1
		}
	}
	if i < 3 {
		out[i] = s[start:]
	}
	return out
}
