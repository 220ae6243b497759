package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postvault/internal/pipeline"
	"postvault/pkg/auth"
	"postvault/pkg/classify"
	"postvault/pkg/instagram"
	"postvault/pkg/logger"
	"postvault/pkg/store"
	"postvault/pkg/telegram"
)

func openArchive(t *testing.T) (*store.Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	st, err := store.Open(dbPath, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, dbPath
}

func TestInstagramFreshRun(t *testing.T) {
	nodes := []instagram.Node{
		savedNode("aaa", "first #go", 10),
		savedNode("bbb", "second", 20),
		savedNode("ccc", "third @friend", 30),
		savedNode("ddd", "", 40),
		savedNode("eee", "fifth", 50),
	}
	srv := newInstaServer(t, nodes, 3)
	st, dbPath := openArchive(t)

	cfg := testConfig(t, dbPath)
	cfg.Instagram.BaseURL = srv.URL()

	cacheDir := t.TempDir()
	primeSession(t, cacheDir, auth.PlatformInstagram, "tester", instagramToken)

	summary, err := pipeline.Extract(context.Background(), cfg, st, pipeline.ExtractOptions{
		Platform:    auth.PlatformInstagram,
		Credentials: instaCreds(),
		CacheDir:    cacheDir,
	}, logger.NewNopLogger())

	require.NoError(t, err)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 5, summary.Total)

	count, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	// Tags and mentions came along
	post, err := st.PostByShortcode("aaa")
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, post.Hashtags)
	post, err = st.PostByShortcode("ccc")
	require.NoError(t, err)
	assert.Equal(t, []string{"friend"}, post.Mentions)
}

func TestInstagramRerunProcessesNothing(t *testing.T) {
	nodes := []instagram.Node{
		savedNode("aaa", "one", 1),
		savedNode("bbb", "two", 2),
		savedNode("ccc", "three", 3),
		savedNode("ddd", "four", 4),
		savedNode("eee", "five", 5),
	}
	srv := newInstaServer(t, nodes, 5)
	st, dbPath := openArchive(t)

	cfg := testConfig(t, dbPath)
	cfg.Instagram.BaseURL = srv.URL()

	cacheDir := t.TempDir()
	primeSession(t, cacheDir, auth.PlatformInstagram, "tester", instagramToken)

	opts := pipeline.ExtractOptions{
		Platform:    auth.PlatformInstagram,
		Credentials: instaCreds(),
		CacheDir:    cacheDir,
	}

	first, err := pipeline.Extract(context.Background(), cfg, st, opts, logger.NewNopLogger())
	require.NoError(t, err)
	require.Equal(t, 5, first.Processed)

	second, err := pipeline.Extract(context.Background(), cfg, st, opts, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 5, second.Skipped)
	assert.Equal(t, 0, second.Errors)
	assert.Equal(t, 5, second.Total)

	// Row count unchanged, external ids still unique
	count, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestInstagramForceUpdateRefreshesCounts(t *testing.T) {
	nodes := []instagram.Node{
		savedNode("aaa", "one", 10),
		savedNode("bbb", "two", 20),
	}
	srv := newInstaServer(t, nodes, 5)
	st, dbPath := openArchive(t)

	cfg := testConfig(t, dbPath)
	cfg.Instagram.BaseURL = srv.URL()

	cacheDir := t.TempDir()
	primeSession(t, cacheDir, auth.PlatformInstagram, "tester", instagramToken)

	opts := pipeline.ExtractOptions{
		Platform:    auth.PlatformInstagram,
		Credentials: instaCreds(),
		CacheDir:    cacheDir,
	}

	_, err := pipeline.Extract(context.Background(), cfg, st, opts, logger.NewNopLogger())
	require.NoError(t, err)

	// Engagement moved upstream
	srv.SetLikes("aaa", 999)

	opts.Force = true
	summary, err := pipeline.Extract(context.Background(), cfg, st, opts, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	post, err := st.PostByShortcode("aaa")
	require.NoError(t, err)
	assert.Equal(t, int64(999), post.Likes)

	// No duplicate rows from the forced run
	count, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestInstagramSessionBudgetStopsGracefully(t *testing.T) {
	nodes := []instagram.Node{
		savedNode("aaa", "one", 1),
		savedNode("bbb", "two", 2),
		savedNode("ccc", "three", 3),
		savedNode("ddd", "four", 4),
		savedNode("eee", "five", 5),
	}
	srv := newInstaServer(t, nodes, 2)
	st, dbPath := openArchive(t)

	cfg := testConfig(t, dbPath)
	cfg.Instagram.BaseURL = srv.URL()
	cfg.Instagram.MaxRequestsPerSession = 2

	cacheDir := t.TempDir()
	primeSession(t, cacheDir, auth.PlatformInstagram, "tester", instagramToken)

	summary, err := pipeline.Extract(context.Background(), cfg, st, pipeline.ExtractOptions{
		Platform:    auth.PlatformInstagram,
		Credentials: instaCreds(),
		CacheDir:    cacheDir,
	}, logger.NewNopLogger())

	// Budget exhaustion is a graceful stop with partial counts: two
	// items cost the whole budget, the third never gets archived
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, srv.Requests())

	count, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTelegramFreshRunAndRerun(t *testing.T) {
	messages := []telegram.SavedMessage{
		savedMessage(105, "latest note #keep"),
		savedMessage(104, "an article link"),
		savedMessage(103, "pasta with garlic"),
	}
	srv := newTgServer(t, messages)
	st, dbPath := openArchive(t)

	cfg := testConfig(t, dbPath)
	cfg.Telegram.BaseURL = srv.URL()

	cacheDir := t.TempDir()
	primeSession(t, cacheDir, auth.PlatformTelegram, "+15550109999", telegramToken)

	opts := pipeline.ExtractOptions{
		Platform:    auth.PlatformTelegram,
		Credentials: tgCreds(),
		CacheDir:    cacheDir,
	}

	first, err := pipeline.Extract(context.Background(), cfg, st, opts, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)
	assert.Equal(t, 0, first.Errors)

	count, err := st.CountMessages()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	msg, err := st.MessageByExternalID(105)
	require.NoError(t, err)
	assert.Equal(t, "latest note #keep", msg.Content)
	assert.Equal(t, "text", msg.ContentType)

	second, err := pipeline.Extract(context.Background(), cfg, st, opts, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 3, second.Skipped)

	count, err = st.CountMessages()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestExtractLimitBoundsRun(t *testing.T) {
	nodes := []instagram.Node{
		savedNode("aaa", "one", 1),
		savedNode("bbb", "two", 2),
		savedNode("ccc", "three", 3),
	}
	srv := newInstaServer(t, nodes, 5)
	st, dbPath := openArchive(t)

	cfg := testConfig(t, dbPath)
	cfg.Instagram.BaseURL = srv.URL()

	cacheDir := t.TempDir()
	primeSession(t, cacheDir, auth.PlatformInstagram, "tester", instagramToken)

	summary, err := pipeline.Extract(context.Background(), cfg, st, pipeline.ExtractOptions{
		Platform:    auth.PlatformInstagram,
		Credentials: instaCreds(),
		CacheDir:    cacheDir,
		Limit:       2,
	}, logger.NewNopLogger())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)

	count, err := st.CountPosts()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestClassifyAfterExtraction(t *testing.T) {
	nodes := []instagram.Node{
		savedNode("aaa", "carbonara: eggs, guanciale, pecorino", 10),
		savedNode("bbb", "sunset over the bay", 20),
	}
	srv := newInstaServer(t, nodes, 5)
	st, dbPath := openArchive(t)

	llm := newLLMServer(t, `{"is_recipe": true, "cuisine_type": "italian", "difficulty": "easy", "meal_type": "dinner", "ingredients_count": 3}`)

	cfg := testConfig(t, dbPath)
	cfg.Instagram.BaseURL = srv.URL()
	cfg.Classifier.Name = "recipe"
	cfg.Classifier.APIBase = llm.URL + "/v1"

	cacheDir := t.TempDir()
	primeSession(t, cacheDir, auth.PlatformInstagram, "tester", instagramToken)

	_, err := pipeline.Extract(context.Background(), cfg, st, pipeline.ExtractOptions{
		Platform:    auth.PlatformInstagram,
		Credentials: instaCreds(),
		CacheDir:    cacheDir,
	}, logger.NewNopLogger())
	require.NoError(t, err)

	summary, err := pipeline.Classify(context.Background(), cfg, st, classify.RunOptions{
		Source: store.SourceInstagram,
	}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Classified)
	assert.Equal(t, 0, summary.Failed)
	assert.NotEmpty(t, summary.RunID)

	verdicts, err := st.CountClassifications()
	require.NoError(t, err)
	assert.Equal(t, int64(2), verdicts)

	// A second run has nothing left to label
	again, err := pipeline.Classify(context.Background(), cfg, st, classify.RunOptions{
		Source: store.SourceInstagram,
	}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Classified)

	verdicts, err = st.CountClassifications()
	require.NoError(t, err)
	assert.Equal(t, int64(2), verdicts)
}
