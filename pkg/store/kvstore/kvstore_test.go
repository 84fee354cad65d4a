package kvstore

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/meshprotocol/agent/pkg/store"
	"github.com/meshprotocol/agent/pkg/store/storetest"
)

func TestKVStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New(dbm.NewMemDB())
	})
}
