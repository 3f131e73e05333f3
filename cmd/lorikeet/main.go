// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/centre-for-microbiome-research/Lorikeet"

func main() {
	lorikeet.Main()
}
