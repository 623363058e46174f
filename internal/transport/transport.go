// Package transport implements the pluggable send/receive transports
// the stream executor treats opaquely: each plugin is identified by a
// small {name, type, properties} config and exposes only Wrap/Unwrap
// over a byte stream.
package transport

import (
	"fmt"
	"io"

	"github.com/creasty/defaults"
)

// Config is the wire-visible plugin configuration the executor is handed
// per sync (a link's configured transport, or the transport_plugins
// parameter of replication.replicate_dataset).
type Config struct {
	Name       string            `yaml:"name" validate:"required"`
	Type       string            `yaml:"type" validate:"required,oneof=plain encrypt compress"`
	Properties map[string]string `yaml:"properties"`
}

// Transport wraps/unwraps a send-stream byte pipe. The executor only calls
// these two methods and never inspects plugin internals.
type Transport interface {
	// Wrap is applied on the sending side, after zfs send and before the
	// bytes reach the peer.
	Wrap(r io.Reader) (io.Reader, error)
	// Unwrap is applied on the receiving side, before the bytes reach zfs
	// receive.
	Unwrap(r io.Reader) (io.Reader, error)
}

// New builds the Transport named by cfg.Type. An empty Type builds a
// PlainTransport; for "encrypt", AES128 is the default cipher.
func New(cfg Config) (Transport, error) {
	switch cfg.Type {
	case "", "plain":
		return PlainTransport{}, nil
	case "encrypt":
		opts := EncryptOptions{}
		if err := defaults.Set(&opts); err != nil {
			return nil, fmt.Errorf("transport %q: defaults: %w", cfg.Name, err)
		}
		if v, ok := cfg.Properties["cipher"]; ok {
			opts.Cipher = v
		}
		if v, ok := cfg.Properties["key"]; ok {
			opts.Key = v
		}
		return NewEncryptTransport(opts)
	case "compress":
		opts := CompressOptions{}
		if err := defaults.Set(&opts); err != nil {
			return nil, fmt.Errorf("transport %q: defaults: %w", cfg.Name, err)
		}
		if v, ok := cfg.Properties["level"]; ok {
			opts.Level = v
		}
		return NewCompressTransport(opts)
	default:
		return nil, fmt.Errorf("transport: unknown plugin type %q", cfg.Type)
	}
}

// PlainTransport passes bytes through unmodified; the default when no
// transport_plugins are configured.
type PlainTransport struct{}

func (PlainTransport) Wrap(r io.Reader) (io.Reader, error)   { return r, nil }
func (PlainTransport) Unwrap(r io.Reader) (io.Reader, error) { return r, nil }
