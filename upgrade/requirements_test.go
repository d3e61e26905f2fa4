package upgrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/revlogstore/vfs"
)

func TestValidateTargetRejectsUnknownToken(t *testing.T) {
	have := NewRequirementSet([]string{"store"})
	target := NewRequirementSet([]string{"store", "made-up-token"})
	assert.Error(t, ValidateTarget(have, target))
}

func TestValidateTargetRejectsMissingPrerequisite(t *testing.T) {
	have := NewRequirementSet([]string{"store"})
	target := NewRequirementSet([]string{"store", "sparserevlog"}) // needs generaldelta
	assert.Error(t, ValidateTarget(have, target))
}

func TestValidateTargetAcceptsSatisfiedPrerequisite(t *testing.T) {
	have := NewRequirementSet([]string{"store"})
	target := NewRequirementSet([]string{"store", "generaldelta", "sparserevlog"})
	assert.NoError(t, ValidateTarget(have, target))
}

func TestValidateTargetRejectsConflictingRevlogVersions(t *testing.T) {
	have := NewRequirementSet([]string{"store", "revlogv1"})
	target := NewRequirementSet([]string{"store", "revlogv1", "revlogv2"})
	assert.Error(t, ValidateTarget(have, target))
}

func TestReadWriteRequirementsRoundTrip(t *testing.T) {
	fs := vfs.NewMemFS()
	require.NoError(t, fs.Mkdir("store"))
	set := NewRequirementSet([]string{"store", "revlogv2", "generaldelta"})
	require.NoError(t, WriteRequirements(fs, "store", set))

	got, err := ReadRequirements(fs, "store")
	require.NoError(t, err)
	assert.ElementsMatch(t, set.Slice(), got.Slice())
}

func TestReadRequirementsMissingFileIsEmptySet(t *testing.T) {
	fs := vfs.NewMemFS()
	got, err := ReadRequirements(fs, "store")
	require.NoError(t, err)
	assert.Empty(t, got)
}
