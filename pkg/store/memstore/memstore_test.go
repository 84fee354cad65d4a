package memstore

import (
	"testing"

	"github.com/meshprotocol/agent/pkg/store"
	"github.com/meshprotocol/agent/pkg/store/storetest"
)

func TestMemstoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
