package internal

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionSweeper_StartAndStop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sweeper := NewRetentionSweeper(newBackupRepo(mock, 90*24*time.Hour, nil), "0 3 * * *")
	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}

func TestRetentionSweeper_RejectsBadSchedule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sweeper := NewRetentionSweeper(newBackupRepo(mock, 90*24*time.Hour, nil), "not a schedule")
	err = sweeper.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not a schedule")
}
