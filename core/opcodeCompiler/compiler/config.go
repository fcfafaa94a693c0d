package compiler

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/naoina/toml"
	"github.com/pkg/errors"

	"github.com/bnb-chain/bsc-jit/common/gopool"
)

// Config tunes the tiered JIT.
type Config struct {
	Enabled bool // Route calls through the compiled tier once hot

	HotThreshold    uint64 // Interpretations of an identity before it is compiled
	CounterCapacity int    // Identities tracked by the execution counter
	CacheSize       int    // Ready artifacts kept before LRU eviction

	QueueSize             int // Pending compilation requests before new ones are dropped
	CompilerWorkers       int // Background compiler goroutines
	MaxOptimizationPasses int // Ceiling on constant-folding passes
	MaxBytecodeSize       int // Larger code is never compiled

	ValidationMode   bool   // Cross-check compiled runs against the interpreter
	ValidationRuns   uint64 // Validate only the first N compiled runs per identity, 0 for all
	RejectOnMismatch bool   // Stop using an artifact after a validation mismatch

	JumpDestCacheBytes int // Memory for cached jumpdest analysis
}

// DefaultConfig contains the default settings for the JIT.
var DefaultConfig = Config{
	Enabled: true,

	HotThreshold:    10,
	CounterCapacity: 64 * 1024,
	CacheSize:       1024,

	QueueSize:             256,
	CompilerWorkers:       gopool.Workers(2), // two, fewer on a single CPU
	MaxOptimizationPasses: DefaultMaxOptimizationPasses,
	MaxBytecodeSize:       params.MaxCodeSize,

	ValidationMode:   false,
	RejectOnMismatch: true,

	JumpDestCacheBytes: 32 * 1024 * 1024,
}

// Sanitize checks the provided user configurations and changes anything
// that's unreasonable or unworkable.
func (config *Config) Sanitize() Config {
	conf := *config
	if conf.HotThreshold < 1 {
		log.Warn("Sanitizing invalid jit hot threshold", "provided", conf.HotThreshold, "updated", DefaultConfig.HotThreshold)
		conf.HotThreshold = DefaultConfig.HotThreshold
	}
	if conf.CounterCapacity < 1 {
		log.Warn("Sanitizing invalid jit counter capacity", "provided", conf.CounterCapacity, "updated", DefaultConfig.CounterCapacity)
		conf.CounterCapacity = DefaultConfig.CounterCapacity
	}
	if conf.CacheSize < 1 {
		log.Warn("Sanitizing invalid jit cache size", "provided", conf.CacheSize, "updated", DefaultConfig.CacheSize)
		conf.CacheSize = DefaultConfig.CacheSize
	}
	if conf.QueueSize < 1 {
		log.Warn("Sanitizing invalid jit queue size", "provided", conf.QueueSize, "updated", DefaultConfig.QueueSize)
		conf.QueueSize = DefaultConfig.QueueSize
	}
	if conf.CompilerWorkers < 1 {
		log.Warn("Sanitizing invalid jit compiler workers", "provided", conf.CompilerWorkers, "updated", DefaultConfig.CompilerWorkers)
		conf.CompilerWorkers = DefaultConfig.CompilerWorkers
	}
	if conf.MaxOptimizationPasses < 1 {
		log.Warn("Sanitizing invalid jit optimization passes", "provided", conf.MaxOptimizationPasses, "updated", DefaultConfig.MaxOptimizationPasses)
		conf.MaxOptimizationPasses = DefaultConfig.MaxOptimizationPasses
	}
	if conf.MaxBytecodeSize < 1 {
		log.Warn("Sanitizing invalid jit bytecode limit", "provided", conf.MaxBytecodeSize, "updated", DefaultConfig.MaxBytecodeSize)
		conf.MaxBytecodeSize = DefaultConfig.MaxBytecodeSize
	}
	if conf.JumpDestCacheBytes < 1 {
		log.Warn("Sanitizing invalid jit jumpdest cache size", "provided", conf.JumpDestCacheBytes, "updated", DefaultConfig.JumpDestCacheBytes)
		conf.JumpDestCacheBytes = DefaultConfig.JumpDestCacheBytes
	}
	return conf
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if rt.Name() != "" && unicode.IsUpper(rune(rt.Name()[0])) {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// LoadConfig decodes a TOML file over cfg. Keys absent from the file keep
// the values already in cfg.
func LoadConfig(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.Wrap(err, file)
	}
	return err
}
