// Package config loads and validates the immutable replica-set
// configuration of spec.md §3 ("Replica set configuration") via viper +
// struct-tag validation, following the mapstructure/yaml tagging
// convention of the teacher's deleted lock config package.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// QuorumAuto is the sentinel QuorumCount value meaning AUTO ≈ ⌊N/2⌋+1.
const QuorumAuto = -1

// ReadHashMode names one of the read-subvolume hash-mode policies of
// spec.md §4.2.
type ReadHashMode string

const (
	HashFirstUp           ReadHashMode = "first-up"
	HashGFID              ReadHashMode = "gfid-hash"
	HashGFIDPID           ReadHashMode = "gfid-pid-hash"
	HashLessLoad          ReadHashMode = "less-load"
	HashLeastLatency      ReadHashMode = "least-latency"
	HashLoadLatencyHybrid ReadHashMode = "load-latency-hybrid"
)

// ThinArbiterConfig configures the S3-backed witness id file of spec.md §6.
type ThinArbiterConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
	Key     string `mapstructure:"key" yaml:"key" validate:"required_if=Enabled true"`
	Region  string `mapstructure:"region" yaml:"region"`
}

// ReplicaSetConfig is the process-wide immutable configuration of spec.md
// §3: child count, quorum policy, pending-key naming, and the optional
// arbiter/thin-arbiter witness.
type ReplicaSetConfig struct {
	Name  string `mapstructure:"name" yaml:"name" validate:"required"`

	ChildCount  int `mapstructure:"child_count" yaml:"child_count" validate:"required,min=1"`
	QuorumCount int `mapstructure:"quorum_count" yaml:"quorum_count"`

	// DataDirs names one badger directory per child, in replica order,
	// for administrative tooling (cmd/afrctl) that opens a replica set
	// directly against on-disk state rather than through a running process.
	DataDirs []string `mapstructure:"data_dirs" yaml:"data_dirs"`

	ArbiterCount int `mapstructure:"arbiter_count" yaml:"arbiter_count" validate:"min=0,max=1"`

	ThinArbiter ThinArbiterConfig `mapstructure:"thin_arbiter" yaml:"thin_arbiter"`

	ConsistentIO bool `mapstructure:"consistent_io" yaml:"consistent_io"`

	HaloEnabled     bool `mapstructure:"halo_enabled" yaml:"halo_enabled"`
	HaloThresholdMs int  `mapstructure:"halo_threshold_ms" yaml:"halo_threshold_ms"`
	HaloMinReplicas int  `mapstructure:"halo_min_replicas" yaml:"halo_min_replicas"`

	ReadHashMode    ReadHashMode `mapstructure:"read_hash_mode" yaml:"read_hash_mode" validate:"required"`
	PinnedReadChild int          `mapstructure:"pinned_read_child" yaml:"pinned_read_child"`

	StaggerTimeoutSeconds     int `mapstructure:"stagger_timeout_seconds" yaml:"stagger_timeout_seconds"`
	SplitBrainChoiceTTLSeconds int `mapstructure:"split_brain_choice_ttl_seconds" yaml:"split_brain_choice_ttl_seconds"`
}

// DefaultConfig returns the configuration a 3-way replica set with no
// arbiter and AUTO quorum would use out of the box.
func DefaultConfig() ReplicaSetConfig {
	return ReplicaSetConfig{
		Name:                       "default",
		ChildCount:                 3,
		QuorumCount:                QuorumAuto,
		ArbiterCount:               0,
		ConsistentIO:               true,
		ReadHashMode:               HashFirstUp,
		PinnedReadChild:            -1,
		StaggerTimeoutSeconds:      10,
		SplitBrainChoiceTTLSeconds: 300,
	}
}

// ResolvedQuorumCount returns the effective quorum count, expanding
// QuorumAuto to ⌊N/2⌋+1 as specified in spec.md §3.
func (c ReplicaSetConfig) ResolvedQuorumCount() int {
	if c.QuorumCount != QuorumAuto {
		return c.QuorumCount
	}
	return c.ChildCount/2 + 1
}

var validate = validator.New()

// Validate runs struct-tag validation plus the cross-field checks validator
// tags can't express: quorum must not exceed the child count, and an
// arbiter needs at least two children.
func (c ReplicaSetConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("replica set config validation: %w", err)
	}
	if c.QuorumCount != QuorumAuto && c.QuorumCount > c.ChildCount {
		return fmt.Errorf("quorum_count %d exceeds child_count %d", c.QuorumCount, c.ChildCount)
	}
	if c.ArbiterCount > 0 && c.ChildCount < 2 {
		return fmt.Errorf("arbiter_count set but child_count %d < 2", c.ChildCount)
	}
	return nil
}

// Load reads a ReplicaSetConfig from the given file path (YAML) layered
// under environment variable overrides, following the teacher's
// viper-based load convention.
func Load(path string) (ReplicaSetConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AFR")
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
