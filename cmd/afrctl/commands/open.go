package commands

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/distfs/afr-core/internal/afr/replicaset"
	"github.com/distfs/afr-core/internal/afr/subvolume"
	"github.com/distfs/afr-core/pkg/config"
	"github.com/distfs/afr-core/pkg/metrics"
)

// openReplicaSet loads the config at cfgFile and opens a ReplicaSet
// directly against each child's badger directory, the way an
// administrative tool inspects on-disk state without going through a
// running server process.
func openReplicaSet(cfgFile string) (*replicaset.ReplicaSet, func(), error) {
	if cfgFile == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.DataDirs) != cfg.ChildCount {
		return nil, nil, fmt.Errorf("data_dirs has %d entries, expected %d (child_count)", len(cfg.DataDirs), cfg.ChildCount)
	}

	subvols := make([]subvolume.Subvolume, cfg.ChildCount)
	opened := make([]*subvolume.BadgerSubvolume, 0, cfg.ChildCount)
	closeAll := func() {
		for _, sv := range opened {
			_ = sv.Close()
		}
	}

	for i, dir := range cfg.DataDirs {
		sv, err := subvolume.OpenBadgerSubvolume(dir)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("opening replica %d data dir %s: %w", i, dir, err)
		}
		opened = append(opened, sv)
		subvols[i] = sv
	}

	arbiterIndex := -1
	if cfg.ArbiterCount > 0 {
		arbiterIndex = cfg.ChildCount - 1
	}

	m := metricsFor(cfg.Name)
	rs := replicaset.New(cfg, subvols, m, arbiterIndex)

	if cfg.ThinArbiter.Enabled {
		ta, err := subvolume.NewThinArbiter(context.Background(), subvolume.ThinArbiterConfig{
			Bucket: cfg.ThinArbiter.Bucket,
			Key:    cfg.ThinArbiter.Key,
			Region: cfg.ThinArbiter.Region,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("opening thin arbiter: %w", err)
		}
		rs.SetThinArbiter(ta)
	}

	return rs, closeAll, nil
}

var metricsRegistries = map[string]*prometheus.Registry{}

// metricsFor returns a per-name metrics bundle, matching the convention
// that each named replica set gets one registered set of counters.
func metricsFor(name string) *metrics.Metrics {
	reg, ok := metricsRegistries[name]
	if !ok {
		reg = prometheus.NewRegistry()
		metricsRegistries[name] = reg
	}
	return metrics.NewMetrics(reg)
}
