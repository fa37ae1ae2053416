package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatUnknown Format = "unknown"
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatTOML    Format = "toml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var decoders = map[Format]func(io.Reader, any) error{
	FormatYAML: func(r io.Reader, into any) error { return yaml.NewDecoder(r).Decode(into) },
	FormatTOML: func(r io.Reader, into any) error { return toml.NewDecoder(r).Decode(into) },
	FormatJSON: func(r io.Reader, into any) error { return json.NewDecoder(r).Decode(into) },
}

var extensionFormats = map[string]Format{
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".toml": FormatTOML,
	".json": FormatJSON,
}

var mediaTypeFormats = map[string]Format{
	"application/json":   FormatJSON,
	"text/json":          FormatJSON,
	"application/toml":   FormatTOML,
	"application/x-toml": FormatTOML,
	"text/toml":          FormatTOML,
	"text/x-toml":        FormatTOML,
	"application/yaml":   FormatYAML,
	"application/x-yaml": FormatYAML,
	"text/yaml":          FormatYAML,
	"text/x-yaml":        FormatYAML,
}

// remoteClient fetches config and connect replies served over HTTP.
var remoteClient = &http.Client{Timeout: 10 * time.Second}

func formatFromFilename(filename string) Format {
	if f, ok := extensionFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}
	return FormatUnknown
}

// formatFromContentType maps a Content-Type header, parameters included, to a
// Format.
func formatFromContentType(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatUnknown
	}
	if f, ok := mediaTypeFormats[mediaType]; ok {
		return f
	}
	return FormatUnknown
}

// openLocation opens a file path, file:// URL or http(s) URL. Remote content
// is typed by its Content-Type, falling back to the path's extension.
func openLocation(location string) (io.ReadCloser, Format, error) {
	if location == "" {
		return nil, FormatUnknown, fmt.Errorf("empty config location")
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, FormatUnknown, err
	}

	switch u.Scheme {
	case "file", "":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, FormatUnknown, err
		}
		return f, formatFromFilename(u.Path), nil
	case "http", "https":
		resp, err := remoteClient.Get(location)
		if err != nil {
			return nil, FormatUnknown, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, FormatUnknown, fmt.Errorf("fetching %s: %s", location, resp.Status)
		}
		format := formatFromContentType(resp.Header.Get("Content-Type"))
		if format == FormatUnknown {
			format = formatFromFilename(u.Path)
		}
		return resp.Body, format, nil
	default:
		return nil, FormatUnknown, fmt.Errorf("unknown scheme %q", u.Scheme)
	}
}

func load(r io.Reader, format Format, into any) error {
	decode, ok := decoders[format]
	if !ok {
		return fmt.Errorf("unable to determine data format")
	}
	return decode(r, into)
}

// loadLocation decodes one location into dest, feeding the raw bytes to h
// when it is not nil.
func loadLocation(location string, dest any, h hash.Hash) error {
	location = strings.TrimSpace(location)
	r, format, err := openLocation(location)
	if err != nil {
		return err
	}
	defer r.Close()

	var rdr io.Reader = r
	if h != nil {
		rdr = io.TeeReader(r, h)
	}
	if err := load(rdr, format, dest); err != nil {
		return fmt.Errorf("unable to load %s: %w", location, err)
	}
	return nil
}

// loadConfigsInto decodes each location into dest in order, so later files
// override the keys they name. The returned hash covers every byte read and
// changes whenever any of the files does.
func loadConfigsInto(dest any, locations []string) (string, error) {
	h := sha256.New()
	for _, location := range locations {
		if err := loadLocation(location, dest, h); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readConfigInto loads locations into dest, then fills defaults and applies
// the command line and environment. A nil opts skips both.
func readConfigInto(dest any, locations []string, opts *CmdEnv) (string, error) {
	hash, err := loadConfigsInto(dest, locations)
	if err != nil {
		return hash, err
	}
	if opts == nil {
		return hash, nil
	}

	if err := defaults.Set(dest); err != nil {
		return hash, fmt.Errorf("applying config defaults: %w", err)
	}
	if err := opts.ApplyTags(reflect.ValueOf(dest)); err != nil {
		return hash, fmt.Errorf("applying command line options: %w", err)
	}
	return hash, nil
}

// LoadInto reads a single file or URL into dest, detecting the format from the
// name or the response's Content-Type.
func LoadInto(location string, dest any) error {
	return loadLocation(location, dest, nil)
}
