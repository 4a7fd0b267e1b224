// Package renderconfig defines the RenderConfig data type and the
// configuration surface that builds one: a TOML file, overridden by
// RENDERD_-prefixed environment variables, overridden in turn by per-request
// values the caller supplies directly (e.g. HTTP query parameters).
package renderconfig

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// validAntiAlias enumerates the permitted anti-alias sample counts.
var validAntiAlias = map[int]bool{1: true, 2: true, 4: true, 8: true}

// Config is an immutable render configuration: constructed once per render
// request and read-only thereafter.
type Config struct {
	BlockSize  int    // px, >= 1
	Width      int    // px, >= 1
	Height     int    // px, >= 1
	AntiAlias  int    // one of 1, 2, 4, 8
	DeBand     bool   // enable the de-band post-process (framebuffer.FrameBuffer)
	Params     any    // opaque bag, passed to workers verbatim at SetScene time
	Source     string // "default" | "file" (file or env layer) | "request" — diagnostics only
}

// New validates fields and returns a Config, or a configuration error
// built with github.com/pkg/errors (errors.Errorf, carrying a stack trace).
func New(blockSize, width, height, antiAlias int, deband bool, params any) (Config, error) {
	cfg := Config{
		BlockSize: blockSize,
		Width:     width,
		Height:    height,
		AntiAlias: antiAlias,
		DeBand:    deband,
		Params:    params,
		Source:    "request",
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs the synchronous configuration-error checks: a zero or
// negative block size, a zero-sized viewport, or an unsupported anti-alias
// level must all be rejected before a frame begins, so no partial frame or
// event is ever produced for a request that was never valid.
func (c Config) Validate() error {
	if c.BlockSize < 1 {
		return errors.Errorf("block size must be >= 1, got %d", c.BlockSize)
	}
	if c.Width < 1 || c.Height < 1 {
		return errors.Errorf("viewport must be non-zero, got %dx%d", c.Width, c.Height)
	}
	if !validAntiAlias[c.AntiAlias] {
		return errors.Errorf("anti_alias must be one of 1,2,4,8, got %d", c.AntiAlias)
	}
	return nil
}

// Defaults returns the conservative defaults used when neither a file nor
// an environment override is present.
func Defaults() Config {
	return Config{
		BlockSize: 64,
		Width:     400,
		Height:    300,
		AntiAlias: 1,
		DeBand:    false,
		Source:    "default",
	}
}

// Loader builds a base Config from a TOML file (if present) layered with
// RENDERD_-prefixed environment variables, in the same two-tier precedence
// the 0xkanth-polymarket-indexer reference repo uses for its own config.
// The opaque Params bag is never sourced from the file/env layer — it is
// always supplied per-request.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader reads path (if non-empty and present) and the environment into
// a fresh Loader. A missing file is not an error; a malformed one is.
func NewLoader(path string) (*Loader, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, errors.Wrapf(err, "loading config file %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "checking config file %s", path)
		}
	}

	if err := k.Load(env.Provider("RENDERD_", ".", envKeyTransform), nil); err != nil {
		return nil, errors.Wrap(err, "loading environment overrides")
	}

	return &Loader{k: k}, nil
}

func envKeyTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "RENDERD_"))
}

// Base returns a Config built from the file/env layers, falling back to
// Defaults() for any field neither layer set.
func (l *Loader) Base() Config {
	d := Defaults()
	cfg := Config{
		BlockSize: l.k.Int("block_size"),
		Width:     l.k.Int("width"),
		Height:    l.k.Int("height"),
		AntiAlias: l.k.Int("anti_alias"),
		DeBand:    l.k.Bool("de_band"),
		Source:    "file",
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = d.BlockSize
	}
	if cfg.Width == 0 {
		cfg.Width = d.Width
	}
	if cfg.Height == 0 {
		cfg.Height = d.Height
	}
	if cfg.AntiAlias == 0 {
		cfg.AntiAlias = d.AntiAlias
	}
	if !l.k.Exists("block_size") && !l.k.Exists("width") {
		cfg.Source = d.Source
	}
	return cfg
}
