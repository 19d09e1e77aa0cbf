package flatpak

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifest = `[Application]
name=org.example.Player
runtime=runtime/org.freedesktop.Platform/x86_64/23.08

[Instance]
instance-id=1234567
app-path=/var/lib/flatpak/app/org.example.Player

[Context]
shared=network;ipc;
devices=dri;all;
`

func TestParse(t *testing.T) {
	var info Info
	parse([]byte(manifest), &info)
	assert.Equal(t, "org.example.Player", info.AppID)
	assert.Equal(t, "1234567", info.InstanceID)
	assert.Equal(t, []string{"dri", "all"}, info.Devices)
	assert.True(t, info.HasDevice("all"))
	assert.False(t, info.HasDevice("kvm"))
}

func TestCheckHost(t *testing.T) {
	info, err := check(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCheckSandboxed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".flatpak-info"), []byte(manifest), 0o644))
	info, err := check(root)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "org.example.Player", info.AppID)
}

func TestCheckManifestNotRegular(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".flatpak-info"), 0o755))
	info, err := check(root)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Empty(t, info.AppID)
}

func TestCheckMissingRoot(t *testing.T) {
	_, err := check(filepath.Join(t.TempDir(), "gone"))
	assert.Error(t, err)
}

func TestCheckSelf(t *testing.T) {
	info, err := Check(os.Getpid())
	if err != nil {
		t.Skip("cannot inspect own root:", err)
	}
	assert.Nil(t, info)
}
