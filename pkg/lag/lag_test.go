package lag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/cache"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/lag"
	mockdriver "github.com/pg-sharding/dsrouter/pkg/mock/driver"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func threshold(f float64) *float64 {
	return &f
}

func TestCheck(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(lag.StatusUnknown, lag.Check(lag.Unknown, threshold(5)))
	assert.Equal(lag.StatusBehind, lag.Check(lag.Seconds(6), threshold(5)))
	assert.Equal(lag.StatusOK, lag.Check(lag.Seconds(5), threshold(5)))
	assert.Equal(lag.StatusOK, lag.Check(lag.Seconds(100), nil))

	assert.Equal("behind", lag.StatusBehind.String())
	assert.Equal("unknown", lag.Unknown.String())
	assert.Equal("1.5", lag.Seconds(1.5).String())
}

func TestHeartbeatOracle(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	store := cache.NewLocalStore(0)
	oracle := lag.NewHeartbeatOracle(store, time.Minute)
	req := lag.Request{Key: "db2:3306", DBHName: "global__r"}

	v, ok := oracle.CachedLag(ctx, req)
	assert.True(ok)
	assert.False(v.Known)

	conn := mockdriver.NewMockConn(ctrl)
	conn.EXPECT().SelectDB(gomock.Any(), "heartbeat").Return(nil)
	conn.EXPECT().Query(gomock.Any(), lag.DefaultHeartbeatStmt).Return(&driver.Rows{
		Columns: []driver.Column{{Name: "lag"}},
		Values:  [][]any{{"12"}},
	}, nil)

	req.Conn = conn
	v, ok = oracle.Lag(ctx, req)
	assert.True(ok)
	assert.Equal(lag.Seconds(12), v)

	req.Conn = nil
	v, ok = oracle.CachedLag(ctx, req)
	assert.True(ok)
	assert.Equal(lag.Seconds(12), v)
}

func TestHeartbeatOracleMissingDatabase(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)

	conn := mockdriver.NewMockConn(ctrl)
	conn.EXPECT().SelectDB(gomock.Any(), "heartbeat").Return(driver.NewError(1049, errors.New("unknown database")))

	oracle := lag.NewHeartbeatOracle(cache.NewLocalStore(0), 0)
	v, ok := oracle.Lag(context.Background(), lag.Request{Key: "db2:3306", Conn: conn})
	assert.True(ok)
	assert.False(v.Known)
}
