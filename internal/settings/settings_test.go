package settings

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/memberhub/internal/testutil"
	"github.com/harrylevesque/memberhub/internal/utils"
)

func TestValidKey(t *testing.T) {
	for _, k := range []string{"site.title", "a", "footer_text", "v2.banner", strings.Repeat("k", 64)} {
		assert.True(t, ValidKey(k), k)
	}
	for _, k := range []string{"", "Site.Title", "with space", "dash-key", strings.Repeat("k", 65), "ünï"} {
		assert.False(t, ValidKey(k), k)
	}
}

func TestPutAndPublic(t *testing.T) {
	svc := NewService(testutil.NewMemStore())
	now := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	svc.SetClock(testutil.NewClock(now).Now)
	ctx := context.Background()

	st, err := svc.Put(ctx, "site.title", PutInput{Value: "Post 12", Public: true})
	require.NoError(t, err)
	assert.Equal(t, now, st.UpdatedAt)
	_, err = svc.Put(ctx, "smtp.host", PutInput{Value: "mail.internal"})
	require.NoError(t, err)
	_, err = svc.Put(ctx, "site.title", PutInput{Value: "Post 12 Online", Public: true})
	require.NoError(t, err)

	pub, err := svc.Public(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"site.title": "Post 12 Online"}, pub)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "site.title", all[0].Key)
	assert.Equal(t, "smtp.host", all[1].Key)

	_, err = svc.Put(ctx, "Bad Key", PutInput{})
	assert.Equal(t, "invalid_key", utils.CodeOf(err))
	_, err = svc.Put(ctx, "big", PutInput{Value: strings.Repeat("x", maxValueLength+1)})
	assert.Equal(t, "value_too_long", utils.CodeOf(err))
}

func TestDelete(t *testing.T) {
	svc := NewService(testutil.NewMemStore())
	ctx := context.Background()

	_, err := svc.Put(ctx, "banner", PutInput{Value: "hi", Public: true})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "banner"))

	err = svc.Delete(ctx, "banner")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
	assert.Equal(t, "invalid_key", utils.CodeOf(svc.Delete(ctx, "BANNER")))

	pub, err := svc.Public(ctx)
	require.NoError(t, err)
	assert.Empty(t, pub)
}
