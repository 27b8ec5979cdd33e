// Copyright (c) 2020–2024 The optochar developers. All rights reserved.
// Project site: https://github.com/gotmc/optochar
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package sequencer

// State is a step of a run.
type State int

const (
	Idle State = iota
	Connecting
	Resetting
	Configuring
	Armed
	Acquiring
	Fetching
	Cleanup
	Done
)

var stateDesc = map[State]string{
	Idle:        "IDLE",
	Connecting:  "CONNECTING",
	Resetting:   "RESETTING",
	Configuring: "CONFIGURING",
	Armed:       "ARMED",
	Acquiring:   "ACQUIRING",
	Fetching:    "FETCHING",
	Cleanup:     "CLEANUP",
	Done:        "DONE",
}

func (s State) String() string { return stateDesc[s] }
