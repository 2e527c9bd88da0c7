// Package config bundles the construction-time parameters spec.md leaves
// as implementation choices: selector pool size, shared read-buffer
// size, select timeout, idle-check granularity and the write-queue
// high-water mark backpressure metrics alert on. Loaded via functional
// options, the pattern h2mux.MuxerConfig's constructor-injected fields
// follow, generalized to the With... option-function shape
// datagramsession.Manager's constructors use for settings fixed after
// construction.
package config

import (
	"time"

	"github.com/blueblueblue/mina/selector"
	"github.com/blueblueblue/mina/session"
)

// Config carries every cross-cutting parameter this module's components
// need at construction time.
type Config struct {
	SelectorCount  int
	ReadBufferSize int
	SelectTimeout  time.Duration
	IdleCheckEvery time.Duration

	ReaderIdle   time.Duration
	WriterIdle   time.Duration
	BothIdle     time.Duration
	WriteTimeout time.Duration

	// WriteQueueHighWaterMark is the pending-request count at or above which
	// metrics.SetFlushQueueDepth reports a session's flush queue as
	// backpressured.
	// Purely advisory: nothing in this module enforces it functionally.
	WriteQueueHighWaterMark int
}

// Default returns the Config spec.md §4.3's defaults describe: a single
// selector, a 1024-byte shared read buffer, a 1-second select timeout.
func Default() Config {
	return Config{
		SelectorCount:           1,
		ReadBufferSize:          1024,
		SelectTimeout:           time.Second,
		IdleCheckEvery:          time.Second,
		WriteQueueHighWaterMark: 256,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

func WithSelectorCount(n int) Option        { return func(c *Config) { c.SelectorCount = n } }
func WithReadBufferSize(n int) Option       { return func(c *Config) { c.ReadBufferSize = n } }
func WithSelectTimeout(d time.Duration) Option { return func(c *Config) { c.SelectTimeout = d } }
func WithIdleCheckEvery(d time.Duration) Option { return func(c *Config) { c.IdleCheckEvery = d } }

func WithReaderIdle(d time.Duration) Option { return func(c *Config) { c.ReaderIdle = d } }
func WithWriterIdle(d time.Duration) Option { return func(c *Config) { c.WriterIdle = d } }
func WithBothIdle(d time.Duration) Option   { return func(c *Config) { c.BothIdle = d } }
func WithWriteTimeout(d time.Duration) Option { return func(c *Config) { c.WriteTimeout = d } }

func WithWriteQueueHighWaterMark(n int) Option {
	return func(c *Config) { c.WriteQueueHighWaterMark = n }
}

// New builds a Config from Default() plus the given options.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// SelectorConfig projects the subset of Config a selector.Processor needs.
func (c Config) SelectorConfig() selector.Config {
	return selector.Config{
		ReadBufferSize:          c.ReadBufferSize,
		SelectTimeout:           c.SelectTimeout,
		IdleCheckEvery:          c.IdleCheckEvery,
		WriteQueueHighWaterMark: c.WriteQueueHighWaterMark,
	}
}

// SessionConfig projects the subset of Config a session.Session needs.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		ReaderIdle:   c.ReaderIdle,
		WriterIdle:   c.WriterIdle,
		BothIdle:     c.BothIdle,
		WriteTimeout: c.WriteTimeout,
	}
}
