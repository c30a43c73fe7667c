package localization_test

import (
	"testing"
	"testing/fstest"

	"mapmo/backend/internal/localization"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsEmbeddedCatalogues(t *testing.T) {
	l, err := localization.Default()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"en", "vi"}, l.Languages())
	assert.NotEqual(t, "room_kept", l.GetString("en", "room_kept"))
	assert.NotEqual(t, l.GetString("en", "room_kept"), l.GetString("vi", "room_kept"))
}

func TestGetString_Fallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"i18n/en.json":    {Data: []byte(`{"hello":"Hello","only_en":"English only"}`)},
		"i18n/uk.json":    {Data: []byte(`{"hello":"Привіт"}`)},
		"i18n/readme.txt": {Data: []byte("ignored")},
	}
	l, err := localization.NewLocalizer(fsys, "i18n")
	require.NoError(t, err)

	assert.Equal(t, "Привіт", l.GetString("uk", "hello"))
	assert.Equal(t, "English only", l.GetString("uk", "only_en"))
	assert.Equal(t, "Hello", l.GetString("fr", "hello"))
	assert.Equal(t, "missing", l.GetString("uk", "missing"))

	l.SetFallback("uk")
	assert.Equal(t, "Привіт", l.GetString("fr", "hello"))
}

func TestFormat(t *testing.T) {
	l, err := localization.Default()
	require.NoError(t, err)
	assert.Contains(t, l.Format("en", "countdown_start", 15), "15")
}

func TestNewLocalizer_Errors(t *testing.T) {
	_, err := localization.NewLocalizer(fstest.MapFS{}, "missing")
	assert.Error(t, err)

	_, err = localization.NewLocalizer(fstest.MapFS{
		"i18n/en.json": {Data: []byte(`{not json`)},
	}, "i18n")
	assert.Error(t, err)
}
