// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import "fmt"

// VlogFileName returns the on-disk file name for a vlog number, of the
// form "000123.vlog".
func VlogFileName(vlogNumber uint32) string {
	return fmt.Sprintf("%06d.vlog", vlogNumber)
}
