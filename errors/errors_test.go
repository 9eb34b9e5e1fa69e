// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEBuildsMessageFromOpKindAndUnderlyingError(t *testing.T) {
	err := E(Op("vlog.Reader.ReadRecord"), Corruption, Str("checksum mismatch"))
	require.Equal(t, "vlog.Reader.ReadRecord: data corruption: checksum mismatch", err.Error())
}

func TestENestingSuppressesDuplicateOpAndKind(t *testing.T) {
	inner := E(Op("vlog.Manager.Pause"), Invalid, Str("vlog is not the one being cleaned"))
	outer := E(Op("vlog.Collector.Run"), inner)
	require.Contains(t, outer.Error(), "vlog.Collector.Run")
	require.Contains(t, outer.Error(), "vlog.Manager.Pause")
	require.Contains(t, outer.Error(), "invalid operation")
	require.Equal(t, 1, strings.Count(outer.Error(), "invalid operation"))
}

func TestEWithNoArgsReturnsNil(t *testing.T) {
	require.Nil(t, E())
}

func TestIsMatchesKindThroughWrappedErrors(t *testing.T) {
	inner := E(Op("disk.Env.NewSequentialFile"), IO, Str("no such file"))
	outer := E(Op("vlog.Store.Get"), inner)
	require.True(t, Is(IO, outer))
	require.False(t, Is(Corruption, outer))
}

func TestMatchTemplate(t *testing.T) {
	err := E(Op("vlog.Writer.AddRecord"), IO, Str("disk full"))
	require.True(t, Match(E(Op("vlog.Writer.AddRecord"), IO), err))
	require.False(t, Match(E(Op("vlog.Writer.AddRecord"), Corruption), err))
}

func TestErrorfFormatsLikeFmtErrorf(t *testing.T) {
	err := Errorf("vlog %d exceeds max size %d", 3, 1<<20)
	require.Equal(t, "vlog 3 exceeds max size 1048576", err.Error())
}
