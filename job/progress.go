// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package job

import (
	"strconv"
	"strings"

	"github.com/blockdevd/blockdevd/log"
)

// maxProgressLineLen is the cap past which a progress line is logged
// and dropped rather than parsed. Widening this would let a
// misbehaving helper grow memory unbounded; the cap is enforced here
// rather than by failing the whole scan.
const maxProgressLineLen = 256

const progressPrefix = "progress: "

// progressScanner implements executil.Output, parsing "progress: cur
// num pct id" lines and feeding them to onProgress. Non-matching lines
// are logged at Debug, never treated as an error.
type progressScanner struct {
	onProgress func(Progress)
}

func (p *progressScanner) Process(line string) {
	if len(line) >= maxProgressLineLen {
		log.Warning("job: progress line exceeds %d chars, dropping", maxProgressLineLen)
		return
	}

	progress, ok := parseProgressLine(line)
	if !ok {
		log.Debug("job: %s", line)
		return
	}

	if p.onProgress != nil {
		p.onProgress(progress)
	}
}

func parseProgressLine(line string) (Progress, bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return Progress{}, false
	}

	fields := strings.Fields(strings.TrimPrefix(line, progressPrefix))
	if len(fields) != 4 {
		return Progress{}, false
	}

	cur, err := strconv.Atoi(fields[0])
	if err != nil {
		return Progress{}, false
	}
	num, err := strconv.Atoi(fields[1])
	if err != nil {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Progress{}, false
	}

	return Progress{
		CurTask:           cur,
		NumTasks:          num,
		CurTaskPercentage: pct,
		CurTaskID:         fields[3],
	}, true
}
