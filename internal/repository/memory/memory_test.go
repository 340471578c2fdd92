package memory

import (
	"testing"

	"github.com/lalith-99/echochat/internal/repository"
	"github.com/lalith-99/echochat/internal/repository/repotest"
)

func TestMemoryStores(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Stores {
		return New().Stores()
	})
}
