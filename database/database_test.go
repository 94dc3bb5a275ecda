package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestEnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("creates unique externalId index", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, EnsureIndexes(context.Background(), mt.DB))

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "createIndexes", evt.CommandName)
		assert.Equal(mt, UsersCollection, evt.Command.Lookup("createIndexes").StringValue())

		indexes, err := evt.Command.Lookup("indexes").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, indexes, 1)
		index := indexes[0].Document()
		assert.Equal(mt, "externalId_1", index.Lookup("name").StringValue())
		assert.True(mt, index.Lookup("unique").Boolean())
		assert.Equal(mt, int32(1), index.Lookup("key", "externalId").Int32())
	})

	mt.Run("reports failure", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    11000,
			Message: "E11000 duplicate key error collection: users index: externalId_1",
			Name:    "DuplicateKey",
		}))

		err := EnsureIndexes(context.Background(), mt.DB)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "create externalId index")
	})
}

func TestDisconnectNilClient(t *testing.T) {
	assert.NoError(t, Disconnect(nil))
}
