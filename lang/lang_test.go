package lang_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"support-bot/lang"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalog = `
default_language: es
es:
  ticket:
    created: "Ticket {id} creado"
    closed: "Ticket cerrado"
  only_es: "solo español"
en:
  ticket:
    created: "Ticket {id} created"
`

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memStore) GetBlob(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *memStore) PutBlob(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = map[string][]byte{}
	}
	m.blobs[key] = b
	return nil
}

func newCatalog(t *testing.T) *lang.Catalog {
	t.Helper()
	c := lang.New("en", nil)
	require.NoError(t, c.LoadBytes([]byte(catalog)))
	return c
}

func Test_Catalog_Resolves_User_Over_Guild_Over_Default(t *testing.T) {
	t.Parallel()

	c := newCatalog(t)
	ctx := context.Background()
	loc := lang.Locale{GuildID: "g1", UserID: "u1"}

	assert.Equal(t, "es", c.Resolve(loc), "default_language in the file wins over the constructor default")

	require.NoError(t, c.SetGuild(ctx, "g1", "en"))
	assert.Equal(t, "en", c.Resolve(loc))

	require.NoError(t, c.SetUser(ctx, "u1", "fr"))
	assert.Equal(t, "fr", c.Resolve(loc))

	require.NoError(t, c.SetUser(ctx, "u1", ""))
	assert.Equal(t, "en", c.Resolve(loc))
}

func Test_Catalog_Get_Replaces_Placeholders_And_Falls_Back(t *testing.T) {
	t.Parallel()

	c := newCatalog(t)
	require.NoError(t, c.SetUser(context.Background(), "u1", "en"))
	loc := lang.Locale{UserID: "u1"}

	assert.Equal(t, "Ticket T-0001 created", c.Get(loc, "ticket.created", "id", "T-0001"))
	assert.Equal(t, "Ticket cerrado", c.Get(loc, "ticket.closed"), "falls back to the default language")
	assert.Equal(t, "[MISSING KEY: nope]", c.Get(loc, "nope"))
}

func Test_Catalog_Rejects_Unsupported_Language(t *testing.T) {
	t.Parallel()

	c := newCatalog(t)
	assert.Error(t, c.SetGuild(context.Background(), "g1", "xx"))
}

func Test_Catalog_Persists_Settings_Through_Store(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &memStore{}

	first := newCatalog(t)
	require.NoError(t, first.Bind(ctx, store))
	require.NoError(t, first.SetGuild(ctx, "g1", "de"))
	require.NoError(t, first.SetUser(ctx, "u9", "ja"))

	second := newCatalog(t)
	require.NoError(t, second.Bind(ctx, store))

	assert.Equal(t, "de", second.Resolve(lang.Locale{GuildID: "g1"}))
	assert.Equal(t, "ja", second.Resolve(lang.Locale{GuildID: "g1", UserID: "u9"}))

	guilds, users := second.Usage()
	assert.Equal(t, map[string]int{"de": 1}, guilds)
	assert.Equal(t, map[string]int{"ja": 1}, users)
}

func Test_Catalog_Coverage_Relative_To_Default(t *testing.T) {
	t.Parallel()

	c := newCatalog(t)
	cov := c.Coverage()
	require.NotEmpty(t, cov)

	byCode := map[string]lang.Coverage{}
	for _, cv := range cov {
		byCode[cv.Code] = cv
	}
	assert.Equal(t, 100, byCode["es"].Percent)
	assert.Equal(t, 33, byCode["en"].Percent)
	assert.Equal(t, 0, byCode["ja"].Percent)
}
