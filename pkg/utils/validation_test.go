package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStruct_Valid(t *testing.T) {
	type request struct {
		NodeType string `validate:"required,max=64"`
	}

	assert.NoError(t, ValidateStruct(request{NodeType: "memory"}))
}

func TestValidateStruct_CollectsFieldMessages(t *testing.T) {
	type request struct {
		SourceID string   `validate:"required,max=128"`
		Weight   *float64 `validate:"omitempty,gte=0,lte=1"`
	}

	weight := 1.5
	err := ValidateStruct(request{Weight: &weight})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sourceid is required")
	assert.Contains(t, err.Error(), "weight must be at most 1")
}

func TestValidateStruct_ClosedSet(t *testing.T) {
	type config struct {
		Environment string `validate:"oneof=development staging production"`
	}

	err := ValidateStruct(config{Environment: "qa"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment must be one of")
}
