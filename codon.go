// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"
	"fmt"
)

var ErrUnsupportedCodonTable = errors.New("unsupported codon table")

// codonTableNames lists the NCBI translation tables upstream
// translation supports.
var codonTableNames = map[int]string{
	1:  "standard",
	11: "bacterial, archaeal and plant plastid",
}

// codonTable validates a translation table id and returns its name.
func codonTable(id int) (string, error) {
	name, ok := codonTableNames[id]
	if !ok {
		return "", fmt.Errorf("%w: %d (supported: 1, 11)", ErrUnsupportedCodonTable, id)
	}
	return name, nil
}
