package version

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString_ContainsBuildInfo(t *testing.T) {
	// Given/When: formatting the version
	str := String()

	// Then: program name, version and platform are present
	assert.Contains(t, str, "vkb "+Version)
	assert.Contains(t, str, "commit:")
	assert.Contains(t, str, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestGetInfo_UsesLdflagValues(t *testing.T) {
	// Given: values injected as by ldflags
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })
	Version, Commit = "1.2.3", "abc1234"

	// When: reading build info
	info := GetInfo()

	// Then: the injected values win
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc1234", info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestGetInfo_IsJSONSerializable(t *testing.T) {
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal(data, &parsed))
	for _, key := range []string{"version", "commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, parsed, key)
	}
}
