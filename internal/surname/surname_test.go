package surname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"three tokens", "राम बहादुर थापा", "थापा"},
		{"abbreviated surname keeps periods", "अनिता के.सी.", "के.सी."},
		{"single token", "सीता", "सीता"},
		{"four tokens", "मिना कुमारी बुढाथोकी रोका", "रोका"},
		{"collapses whitespace", "  अङना\t  चौधरी  ", "चौधरी"},
		{"strips trailing punctuation", "हरि प्रसाद शर्मा,;", "शर्मा"},
		{"empty", "", ""},
		{"only spaces", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "बुढाथोकी", Normalize("वुढाथोकी"))
	assert.Equal(t, "वि.क.", Normalize(" बि.क. "))
	assert.Equal(t, "वोहरा", Normalize("बोहरा"))
	assert.Equal(t, "थापा", Normalize("थापा "))
	assert.Equal(t, "", Normalize("  "))
}

func TestNormalizeComposesDevanagari(t *testing.T) {
	// क + nukta (decomposed) and क़ (precomposed) must resolve identically
	decomposed := "\u0915\u093c"
	precomposed := "\u0958"
	assert.Equal(t, Normalize(precomposed), Normalize(decomposed))
}

func TestExtractIsDeterministic(t *testing.T) {
	in := "राम बहादुर थापा"
	assert.Equal(t, Extract(in), Extract(in))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("राम थापा"))
	assert.NoError(t, ValidateName("Ram Thapa"))
	assert.ErrorIs(t, ValidateName("  "), ErrNameRequired)
	assert.ErrorIs(t, ValidateName("र"), ErrNameTooShort)
	assert.ErrorIs(t, ValidateName(strings.Repeat("क", 201)), ErrNameTooLong)
	assert.ErrorIs(t, ValidateName("1234"), ErrNameInvalidChars)
}
