package hbm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildStatsString(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	engine := newTestEngine(t, provider, CreateOptions{})
	defer engine.Destroy()

	id, _, err := engine.Allocate(4, 1, FormatR8, UseGPUDataBuffer|UseSWReadOften, nil)
	require.NoError(t, err)

	var stats struct {
		Config struct {
			StagingMemoryTypeIndex int
			StagingMemoryTypeFlags string
		}
		ResourceCount int
		Resources     []struct {
			Format           int
			UseFlags         string
			SoftwareUse      bool
			HasImplicitFence bool
			Staging          *struct {
				Size    int
				Offsets []int
				Strides []int
			}
		}
	}

	require.NoError(t, json.Unmarshal([]byte(engine.BuildStatsString(true)), &stats))

	require.Equal(t, 2, stats.Config.StagingMemoryTypeIndex)
	require.Equal(t, 1, stats.ResourceCount)
	require.Len(t, stats.Resources, 1)

	res := stats.Resources[0]
	require.True(t, res.SoftwareUse)
	require.False(t, res.HasImplicitFence)
	require.NotNil(t, res.Staging)
	require.Equal(t, 4, res.Staging.Size)

	require.NoError(t, engine.Free(id))
}

func TestBuildStatsStringSummary(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	engine := newTestEngine(t, provider, CreateOptions{UseSynchronization: true})
	defer engine.Destroy()

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(engine.BuildStatsString(false)), &stats))

	require.Contains(t, stats, "Config")
	require.Equal(t, float64(0), stats["ResourceCount"])
	require.NotContains(t, stats, "Resources")
}
