package surnames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/voterimport/internal/caste"
)

func TestParseCategory(t *testing.T) {
	c, err := parseCategory("Dalit")
	require.NoError(t, err)
	assert.Equal(t, caste.Dalit, c)

	c, err = parseCategory("दलित")
	require.NoError(t, err)
	assert.Equal(t, caste.Dalit, c)

	_, err = parseCategory("nonsense")
	assert.Error(t, err)
}
