package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/selimerdinc/VeloxCase/internal/crypto"
	"github.com/selimerdinc/VeloxCase/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	cipher, err := crypto.New("", true)
	require.NoError(t, err)

	db, err := New(filepath.Join(t.TempDir(), "test.db"), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Initialize())
	return db
}

func TestUsers(t *testing.T) {
	db := testDB(t)

	id, err := db.CreateUser("alice", "hash1")
	require.NoError(t, err)
	assert.NotZero(t, id)

	user, err := db.GetUserByUsername("alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "hash1", user.PasswordHash)

	missing, err := db.GetUserByUsername("bob")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing users are nil, not an error")

	_, err = db.CreateUser("alice", "hash2")
	assert.Error(t, err, "usernames are unique")

	require.NoError(t, db.UpdatePassword(id, "hash3"))
	user, err = db.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "hash3", user.PasswordHash)
}

func TestSettingsEncryptSensitiveValues(t *testing.T) {
	db := testDB(t)

	uid, err := db.CreateUser("alice", "hash")
	require.NoError(t, err)

	require.NoError(t, db.SaveSetting(uid, "JIRA_BASE_URL", "https://acme.atlassian.net"))
	require.NoError(t, db.SaveSetting(uid, "JIRA_API_TOKEN", "secret-token"))

	// Plaintext reads go through GetSetting
	assert.Equal(t, "https://acme.atlassian.net", db.GetSetting(uid, "JIRA_BASE_URL"))
	assert.Equal(t, "secret-token", db.GetSetting(uid, "JIRA_API_TOKEN"))

	// At rest the token is ciphertext
	raw, err := db.GetSettings(uid)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.atlassian.net", raw["JIRA_BASE_URL"])
	assert.NotEqual(t, "secret-token", raw["JIRA_API_TOKEN"])
	assert.NotEmpty(t, raw["JIRA_API_TOKEN"])
}

func TestSettingsUpsertAndMissing(t *testing.T) {
	db := testDB(t)
	uid, err := db.CreateUser("alice", "hash")
	require.NoError(t, err)

	assert.Equal(t, "", db.GetSetting(uid, "NOPE"))

	require.NoError(t, db.SaveSetting(uid, "TESTMO_BASE_URL", "https://a.testmo.net"))
	require.NoError(t, db.SaveSetting(uid, "TESTMO_BASE_URL", "https://b.testmo.net"))
	assert.Equal(t, "https://b.testmo.net", db.GetSetting(uid, "TESTMO_BASE_URL"))
}

func TestSettingsAreScopedPerUser(t *testing.T) {
	db := testDB(t)
	alice, err := db.CreateUser("alice", "h")
	require.NoError(t, err)
	bob, err := db.CreateUser("bob", "h")
	require.NoError(t, err)

	require.NoError(t, db.SaveSetting(alice, "JIRA_EMAIL", "alice@example.com"))
	assert.Equal(t, "", db.GetSetting(bob, "JIRA_EMAIL"))
}

func TestIsSensitiveKey(t *testing.T) {
	assert.True(t, IsSensitiveKey("JIRA_API_TOKEN"))
	assert.True(t, IsSensitiveKey("TESTMO_API_KEY"))
	assert.True(t, IsSensitiveKey("AI_API_KEY"))
	assert.False(t, IsSensitiveKey("JIRA_BASE_URL"))
}

func TestHistoryAndStats(t *testing.T) {
	db := testDB(t)
	uid, err := db.CreateUser("alice", "hash")
	require.NoError(t, err)

	stats, err := db.GetStats(uid)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSyncs)
	assert.True(t, stats.LastSync.IsZero())

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	require.NoError(t, db.RecordSync(&models.SyncRecord{
		Date: first, Task: "PROJ-1", RepoID: 5, FolderID: 9,
		Cases: 3, Images: 2, Status: "SUCCESS", CaseName: "Login Flow", UserID: uid,
	}))
	require.NoError(t, db.RecordSync(&models.SyncRecord{
		Date: second, Task: "PROJ-2", RepoID: 5, FolderID: 9,
		Cases: 1, Images: 0, Status: "UPDATED", CaseName: "Checkout", UserID: uid,
	}))

	records, err := db.ListHistory(uid, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "PROJ-2", records[0].Task, "newest first")
	assert.Equal(t, "PROJ-1", records[1].Task)

	limited, err := db.ListHistory(uid, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	stats, err = db.GetStats(uid)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSyncs)
	assert.Equal(t, 4, stats.TotalCases)
	assert.Equal(t, 2, stats.TotalImages)
	assert.Equal(t, second, stats.LastSync.UTC())
}
