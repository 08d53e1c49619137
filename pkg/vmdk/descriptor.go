package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"strconv"
	"strings"
)

// toolsVersion is reported in the descriptor's ddb.toolsVersion field.
// The original writes whatever build identifies the tool that produced
// the file; this package has no such build identity, so it writes a fixed
// "0" placeholder.
const toolsVersion = "0"

// descriptorTemplate mirrors sparse.c's makeDiskDescriptorFile: a text
// descriptor embedded inside the sparse extent itself, naming one
// monolithic SPARSE extent with no parent (base disk).
const descriptorTemplate = `# Disk DescriptorFile
version=1
encoding="UTF-8"
CID=%08x
parentCID=ffffffff
createType="streamOptimized"

# Extent description
RW %d SPARSE "%s"

# The Disk Data Base
#DDB

ddb.longContentID = "%08x%08x%08x%08x"
ddb.virtualHWVersion = "4"
ddb.geometry.cylinders = "%d"
ddb.geometry.heads = "255"
ddb.geometry.sectors = "63"
ddb.adapterType = "lsilogic"
ddb.toolsInstallType = "4"
ddb.toolsVersion = "%s"`

// DescriptorIdentity carries the random identifiers a descriptor embeds.
// Callers supply these explicitly (rather than the package reaching into
// process-global randomness) so tests can be deterministic.
type DescriptorIdentity struct {
	CID     uint32
	Random1 uint32
	Random2 uint32
	Random3 uint32
}

// BuildDescriptor renders the embedded descriptor text for a disk of
// capacitySectors sectors, named extentName.
func BuildDescriptor(id DescriptorIdentity, capacitySectors uint64, extentName string) string {
	cylinders := (capacitySectors + 255*63 - 1) / (255 * 63)
	if cylinders == 0 {
		cylinders = 1
	}
	if cylinders > 65535 {
		cylinders = 65535
	}
	return fmt.Sprintf(descriptorTemplate,
		id.CID, capacitySectors, extentName,
		id.Random1, id.Random2, id.Random3, id.CID,
		cylinders, toolsVersion)
}

// descriptorCapacity extracts the sector count from the "RW <n> SPARSE"
// extent line of a descriptor previously produced by BuildDescriptor (or
// a compatible monolithic-sparse descriptor). Used by the reader as a
// cross-check against the header's own Capacity field.
func descriptorCapacity(text string) (uint64, bool) {
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 4 && fields[0] == "RW" && fields[2] == "SPARSE" {
			n, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}
