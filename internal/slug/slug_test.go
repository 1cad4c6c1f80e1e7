package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Ali Raza":           "ali_raza",
		"  Hamid -- Fabrics": "hamid_fabrics",
		"M/s. Noor & Sons":   "m_s_noor_sons",
		"علی":                "",
		"already_ok":         "already_ok",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
	assert.Len(t, Slugify(strings.Repeat("x", 80)), 40)
}

func TestUnique(t *testing.T) {
	used := map[string]bool{"ali": true, "ali_2": true}
	taken := func(c string) (bool, error) { return used[c], nil }

	code, err := Unique("Ali", "account", taken)
	require.NoError(t, err)
	assert.Equal(t, "ali_3", code)

	code, err = Unique("علی", "account", taken)
	require.NoError(t, err)
	assert.Equal(t, "account", code)
	assert.True(t, IsSlug(code))
}
