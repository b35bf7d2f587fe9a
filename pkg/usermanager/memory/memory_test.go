package memory

import (
	"testing"

	"github.com/marmos91/dittoftp/pkg/usermanager"
	umtesting "github.com/marmos91/dittoftp/pkg/usermanager/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &umtesting.StoreTestSuite{
		NewStore: func(t *testing.T) usermanager.Store {
			return New()
		},
	}
	suite.Run(t)
}
