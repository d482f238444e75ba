package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressroom/pressroom/internal/domain/model"
	"github.com/pressroom/pressroom/internal/testutil"
)

func TestDeadLetterRepo_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		jobs := NewJobRepo(db, RepoConfig{})
		letters := NewDeadLetterRepo(db)
		ctx := context.Background()

		first := failOldJob(t, jobs, "first failure")
		second := failOldJob(t, jobs, "second failure")

		all, err := letters.List(ctx, true, 10)
		require.NoError(t, err)
		require.Len(t, all, 2)

		// Replaying the first job stamps its row; the default listing
		// then hides it.
		_, err = jobs.Replay(ctx, first.ID)
		require.NoError(t, err)

		active, err := letters.List(ctx, false, 10)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, second.ID, active[0].JobID)
		assert.Equal(t, model.JobKindRender, active[0].Kind)

		all, err = letters.List(ctx, true, 10)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestDeadLetterRepo_ListLimit(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		jobs := NewJobRepo(db, RepoConfig{})
		letters := NewDeadLetterRepo(db)
		ctx := context.Background()

		for range 3 {
			failOldJob(t, jobs, "repeat failure")
		}

		limited, err := letters.List(ctx, true, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		// A non-positive limit falls back to the default.
		all, err := letters.List(ctx, true, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}
