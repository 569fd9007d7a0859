package ldb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildOptionsDefaultsAreValid(t *testing.T) {
	o, err := buildOptions()
	require.NoError(t, err)
	require.Equal(t, int64(4096), o.PageSize)
	require.Equal(t, 1024, o.CacheCapacity)
}

func TestBuildOptionsAppliesOverrides(t *testing.T) {
	o, err := buildOptions(
		WithPageSize(8192),
		WithCacheCapacity(32),
		WithMaxKeySize(1024),
		WithMaxEntrySize(2048),
		WithLockUpgradeRule(UpgradeLenient),
		WithLockPartitions(8),
		WithDefaultLockTimeoutMS(500),
		WithCheckpointWorkers(2),
	)
	require.NoError(t, err)
	require.Equal(t, int64(8192), o.PageSize)
	require.Equal(t, 32, o.CacheCapacity)
	require.Equal(t, 1024, o.MaxKeySize)
	require.Equal(t, 2048, o.MaxEntrySize)
	require.Equal(t, UpgradeLenient, o.LockUpgradeRule)
	require.Equal(t, 8, o.LockPartitions)
	require.Equal(t, int64(500), o.DefaultLockTimeoutMS)
	require.Equal(t, 2, o.CheckpointWorkers)
}

func TestBuildOptionsRejectsNonPowerOfTwoPageSize(t *testing.T) {
	_, err := buildOptions(WithPageSize(4000))
	require.Error(t, err)
}

func TestBuildOptionsRejectsPageSizeBelowMinimum(t *testing.T) {
	_, err := buildOptions(WithPageSize(256))
	require.Error(t, err)
}

func TestBuildOptionsRejectsCacheCapacityBelowMinimum(t *testing.T) {
	_, err := buildOptions(WithCacheCapacity(1))
	require.Error(t, err)
}

func TestBuildOptionsRejectsMaxKeySizeAboveCeiling(t *testing.T) {
	_, err := buildOptions(WithMaxKeySize(20000))
	require.Error(t, err)
}

func TestBuildOptionsRejectsZeroMaxEntrySize(t *testing.T) {
	_, err := buildOptions(WithMaxEntrySize(0))
	require.Error(t, err)
}

func TestBuildOptionsRejectsZeroLockPartitions(t *testing.T) {
	_, err := buildOptions(WithLockPartitions(0))
	require.Error(t, err)
}

func TestBuildOptionsRejectsZeroCheckpointWorkers(t *testing.T) {
	_, err := buildOptions(WithCheckpointWorkers(0))
	require.Error(t, err)
}

func TestBuildOptionsAllowsZeroLockTimeout(t *testing.T) {
	o, err := buildOptions(WithDefaultLockTimeoutMS(0))
	require.NoError(t, err)
	require.Equal(t, int64(0), o.DefaultLockTimeoutMS)
}
