// Package paramconfig implements the external configuration-loader
// contract: a flat key=value text file is parsed into a string map, with
// typed accessors that return a ConfigError rather than terminating the
// process on a missing or malformed key.
package paramconfig

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/vladindex/ivfadc/internal/ivfadcerr"
)

// Params is the parsed key -> string value map.
type Params map[string]string

// Load reads a `key = value` file: one assignment per line, blank lines and
// lines starting with '#' ignored, matching the original loader's format.
func Load(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	defer f.Close()

	params := make(Params)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, &ivfadcerr.ConfigError{
				Key:    path,
				Reason: "malformed line " + strconv.Itoa(lineNo) + ": missing '='",
			}
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		params[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, &ivfadcerr.IoError{Path: path, Err: err}
	}
	return params, nil
}

// GetString returns the raw string value for key.
func (p Params) GetString(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", &ivfadcerr.ConfigError{Key: key, Reason: "missing required option"}
	}
	return v, nil
}

// GetStringDefault returns the value for key, or def if absent.
func (p Params) GetStringDefault(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// GetInt returns key's value parsed as an integer.
func (p Params) GetInt(key string) (int, error) {
	v, err := p.GetString(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ivfadcerr.ConfigError{Key: key, Reason: "not an integer: " + v, Err: err}
	}
	return n, nil
}

// GetIntDefault returns key's value parsed as an integer, or def if absent
// or unparseable.
func (p Params) GetIntDefault(key string, def int) int {
	n, err := p.GetInt(key)
	if err != nil {
		return def
	}
	return n
}

// GetFloat returns key's value parsed as a float64.
func (p Params) GetFloat(key string) (float64, error) {
	v, err := p.GetString(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ivfadcerr.ConfigError{Key: key, Reason: "not a float: " + v, Err: err}
	}
	return f, nil
}

// GetFloatDefault returns key's value parsed as a float64, or def if absent
// or unparseable.
func (p Params) GetFloatDefault(key string, def float64) float64 {
	f, err := p.GetFloat(key)
	if err != nil {
		return def
	}
	return f
}
