// Copyright 2017 DigitalOcean.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config parses the controller's line-based key/value
// configuration file, mirroring load_config/config_set_defaults in the
// original controller.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kphf1995cm/srn/internal/flowmgr"
)

// Config holds every tunable the controller reads from its config file,
// with defaults applied by Defaults matching config_set_defaults.
type Config struct {
	OVSDBServer   string
	OVSDBDatabase string
	NTransacts    int

	RulesFile      string
	WorkerThreads  int
	ReqBufferSize  int

	Providers []flowmgr.Provider
}

// Defaults returns a Config with the same defaults config_set_defaults
// applies before a config file is parsed over it.
func Defaults() Config {
	return Config{
		OVSDBServer:   "tcp:[::1]:6640",
		OVSDBDatabase: "SR_test",
		NTransacts:    1,
		RulesFile:     "rules.conf",
		WorkerThreads: 1,
		ReqBufferSize: 16,
		Providers:     []flowmgr.Provider{flowmgr.InternalProvider},
	}
}

// Load reads path and returns the Config it describes, starting from
// Defaults. A line with an unrecognized key is a configuration error
// (load_config's "parse error: unknown line" path), not a silently
// ignored one.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a Config from r in the grammar documented by spec.md §6:
// `ovsdb_client "<path>"`, `ovsdb_server "<url>"`, `ovsdb_database
// "<name>"`, `ntransacts <N>`, `rules_file "<path>"`, `worker_threads
// <N>`, `req_buffer_size <N>`, and a `providers` line of repeated
// "<name> <addr> <len> via <router>" groups.
//
// ovsdb_client names the ovsdb-client CLI binary the original spawned as
// a subprocess; the Go controller talks OVSDB directly over the ovsdb
// package and has no such subprocess, so the key is accepted (for config
// file compatibility) and otherwise ignored.
func Parse(r io.Reader) (Config, error) {
	cfg := Defaults()

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := parseLine(line, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func parseLine(line string, cfg *Config) error {
	key, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch key {
	case "ovsdb_client":
		// Accepted for file compatibility, not used: see Parse's doc comment.
		return nil
	case "ovsdb_server":
		v, err := quotedString(rest)
		if err != nil {
			return err
		}
		cfg.OVSDBServer = v
		return nil
	case "ovsdb_database":
		v, err := quotedString(rest)
		if err != nil {
			return err
		}
		cfg.OVSDBDatabase = v
		return nil
	case "ntransacts":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("invalid ntransacts %q: %w", rest, err)
		}
		if n < 1 {
			n = 1
		}
		cfg.NTransacts = n
		return nil
	case "rules_file":
		v, err := quotedString(rest)
		if err != nil {
			return err
		}
		cfg.RulesFile = v
		return nil
	case "worker_threads":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("invalid worker_threads %q: %w", rest, err)
		}
		if n < 1 {
			n = 1
		}
		cfg.WorkerThreads = n
		return nil
	case "req_buffer_size":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("invalid req_buffer_size %q: %w", rest, err)
		}
		if n < 1 {
			n = 1
		}
		cfg.ReqBufferSize = n
		return nil
	case "providers":
		providers, err := parseProviders(rest)
		if err != nil {
			return err
		}
		cfg.Providers = providers
		return nil
	default:
		return fmt.Errorf("parse error: unknown line `%s'", line)
	}
}

func quotedString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("expected a quoted string, got %q", s)
	}
	return s[1 : len(s)-1], nil
}

// parseProviders parses repeated groups of "<name> <addr> <len> via
// <router>" (five tokens each, the literal "via" included), mirroring
// load_config's token-splitting on space and '/'.
func parseProviders(rest string) ([]flowmgr.Provider, error) {
	fields := strings.FieldsFunc(rest, func(r rune) bool { return r == ' ' || r == '/' })
	const groupSize = 5
	if len(fields)%groupSize != 0 {
		return nil, fmt.Errorf("malformed providers line (expected groups of %d tokens): %q", groupSize, rest)
	}

	var out []flowmgr.Provider
	for i := 0; i+groupSize-1 < len(fields); i += groupSize {
		name, addr, lenTok, router := fields[i], fields[i+1], fields[i+2], fields[i+4]

		n, err := strconv.Atoi(lenTok)
		if err != nil {
			return nil, fmt.Errorf("invalid provider prefix length %q: %w", lenTok, err)
		}

		out = append(out, flowmgr.Provider{
			Name:      name,
			Addr:      addr,
			PrefixLen: uint8(n),
			Router:    router,
		})
	}
	return out, nil
}
