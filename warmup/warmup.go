// Package warmup implements the warmup resolver: turning a strategy's
// declared indicator lookbacks into a per-role bar count and an extended
// load-start timestamp.
//
// Determinism is the whole point of this component: warmup is a pure
// function of declared lookbacks, never of data, so it must not read any
// bars.
package warmup

import (
	"time"

	"github.com/chidi150c/perpbacktest/tf"
)

// Role is an exec/mtf/htf timeframe role (GLOSSARY).
type Role string

const (
	RoleExec Role = "exec"
	RoleMTF  Role = "mtf"
	RoleHTF  Role = "htf"
)

// LookbackSpec is one declared indicator requirement: role, key, lookback.
type LookbackSpec struct {
	Role     Role
	Key      string
	Lookback int
}

// RoleTFMap maps each role to its configured timeframe.
type RoleTFMap map[Role]tf.Timeframe

// Result is the per-role warmup bar count plus the extended load window.
type Result struct {
	WarmupBars      map[Role]int
	LoadStartPrime  time.Time
}

// Resolve computes, for each role present in roleTF, the maximum declared
// lookback across all specs for that role, then derives an extended load
// start by subtracting that many bars (at the role's TF step) from
// loadStart.
func Resolve(specs []LookbackSpec, roleTF RoleTFMap, loadStart time.Time) (Result, error) {
	warmup := map[Role]int{}
	for role := range roleTF {
		warmup[role] = 0
	}
	for _, s := range specs {
		if s.Lookback > warmup[s.Role] {
			warmup[s.Role] = s.Lookback
		}
	}

	earliest := loadStart
	for role, bars := range warmup {
		if bars <= 0 {
			continue
		}
		t, ok := roleTF[role]
		if !ok {
			continue
		}
		candidate, err := tf.SubtractBars(loadStart, t, bars)
		if err != nil {
			return Result{}, err
		}
		if candidate.Before(earliest) {
			earliest = candidate
		}
	}

	return Result{WarmupBars: warmup, LoadStartPrime: earliest}, nil
}
