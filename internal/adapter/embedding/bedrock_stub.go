//go:build !bedrock

package embedding

import (
	"fmt"

	"memlog/internal/domain"
	"memlog/internal/infra/config"
)

func newBedrock(config.EmbeddingConfig) (domain.EmbeddingProvider, error) {
	return nil, fmt.Errorf("%w: bedrock provider requires build with -tags bedrock", domain.ErrInvalidInput)
}
