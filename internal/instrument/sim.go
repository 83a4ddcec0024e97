// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// Simulated readings sit in the nominal band with mild uniform noise so limit
// checks behave as they would on healthy hardware.

var (
	simMu  sync.Mutex
	simRnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// simFloat returns nominal +/- spread with the given number of decimals.
func simFloat(nominal, spread float64, decimals int) string {
	simMu.Lock()
	v := nominal + (simRnd.Float64()*2-1)*spread
	simMu.Unlock()
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
