package zoo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUnknownModel(t *testing.T) {
	_, err := Build("resnet_950")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
	assert.Contains(t, err.Error(), "inception_v4")
}

func TestBuildRejectsBadOptions(t *testing.T) {
	_, err := Build("inception_v4", WithNumClasses(0))
	assert.Error(t, err)

	_, err = Build("inception_v4", WithDropRate(1))
	assert.Error(t, err)

	_, err = Build("inception_v4", WithInChannels(-1))
	assert.Error(t, err)
}

func TestBuildInceptionV4Defaults(t *testing.T) {
	m, err := Build("inception_v4")
	require.NoError(t, err)
	assert.Equal(t, "inception_v4", m.Name())
	assert.Equal(t, 1000, m.NumClasses())
	assert.Equal(t, 3, m.InChannels())
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	require.NotEmpty(t, names)
	assert.Contains(t, names, "inception_v4")
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}
