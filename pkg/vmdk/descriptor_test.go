package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDescriptorRoundTrip(t *testing.T) {
	id := DescriptorIdentity{CID: 0x1234, Random1: 1, Random2: 2, Random3: 3}
	text := BuildDescriptor(id, 2048, "disk.vmdk")

	assert.True(t, strings.HasPrefix(text, "# Disk DescriptorFile"))
	assert.Contains(t, text, `CID=00001234`)
	assert.Contains(t, text, `parentCID=ffffffff`)
	assert.Contains(t, text, `RW 2048 SPARSE "disk.vmdk"`)

	n, ok := descriptorCapacity(text)
	require.True(t, ok)
	assert.EqualValues(t, 2048, n)
}

func TestDescriptorCapacityMissingLine(t *testing.T) {
	_, ok := descriptorCapacity("# Disk DescriptorFile\nversion=1\n")
	assert.False(t, ok)
}

func TestBuildDescriptorCylinderClamp(t *testing.T) {
	id := DescriptorIdentity{CID: 1, Random1: 1, Random2: 1, Random3: 1}
	// capacity large enough to exceed the 65535-cylinder clamp.
	text := BuildDescriptor(id, 255*63*100000, "big.vmdk")
	assert.Contains(t, text, `ddb.geometry.cylinders = "65535"`)
}
