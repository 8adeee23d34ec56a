package repo

import (
	"context"
	"testing"

	"github.com/richardliu001/account-events/internal/config"
	"github.com/richardliu001/account-events/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenDB(t *testing.T) {
	db, err := OpenDB(config.StoreConfig{Driver: config.DriverSQLite, DSN: "file:open_test?mode=memory&cache=shared"})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	r := NewRepository(db, &kafka.Writer{}, zap.NewNop().Sugar())
	require.NoError(t, r.Migrate(context.Background()))
	_, err = r.Append(context.Background(), model.NewEvent(nil, nil, "AccountHolder"))
	assert.NoError(t, err)

	_, err = OpenDB(config.StoreConfig{Driver: config.DriverMemory})
	assert.Error(t, err)
}
