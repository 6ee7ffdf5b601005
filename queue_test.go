package goamqp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeOptionsExplicitFalseSurvivesOverTrueDefault(t *testing.T) {
	declOpts := &DeclareOptions{Exclusive: Bool(false), AutoDelete: Bool(false)}
	merged, err := mergeOptions(defaultDeclareOptions(), declOpts)
	require.NoError(t, err)
	require.False(t, boolOr(merged.Exclusive, true), "explicit Exclusive:false must survive the merge")
	require.False(t, boolOr(merged.AutoDelete, true), "explicit AutoDelete:false must survive the merge")

	subOpts := &SubscribeOptions{NoAck: Bool(false)}
	mergedSub, err := mergeOptions(defaultSubscribeOptions(), subOpts)
	require.NoError(t, err)
	require.False(t, boolOr(mergedSub.NoAck, true), "explicit NoAck:false must survive the merge")

	pubOpts := &PublishOptions{Mandatory: Bool(false)}
	mergedPub, err := mergeOptions(defaultPublishOptions("q"), pubOpts)
	require.NoError(t, err)
	require.False(t, boolOr(mergedPub.Mandatory, true), "explicit Mandatory:false must survive the merge")
}

func TestMergeOptionsNilFieldsFallBackToDefaults(t *testing.T) {
	merged, err := mergeOptions(defaultDeclareOptions(), &DeclareOptions{})
	require.NoError(t, err)
	require.True(t, boolOr(merged.Exclusive, false), "unset Exclusive should inherit the true default")
	require.True(t, boolOr(merged.AutoDelete, false), "unset AutoDelete should inherit the true default")

	merged, err = mergeOptions(defaultDeclareOptions(), nil)
	require.NoError(t, err)
	require.True(t, boolOr(merged.Exclusive, false))
}
