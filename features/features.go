// Package features provides process-wide switches for key generation
// behaviour that operators may need to flip without a rebuild.
package features

import (
	"fmt"
	"sync"
)

type FeatureFlag int

const (
	unused FeatureFlag = iota

	// SequentialPrimeSearch draws q and then p on the calling goroutine
	// instead of searching for both concurrently. Combined with a
	// deterministic random source this makes generation reproducible.
	SequentialPrimeSearch
	// NoCooperativeYield disables the runtime.Gosched call that prime
	// searches make after every run of failed candidates.
	NoCooperativeYield
)

var names = map[FeatureFlag]string{
	unused:                "unused",
	SequentialPrimeSearch: "SequentialPrimeSearch",
	NoCooperativeYield:    "NoCooperativeYield",
}

func (f FeatureFlag) String() string {
	if name, ok := names[f]; ok {
		return name
	}
	return fmt.Sprintf("FeatureFlag(%d)", int(f))
}

// List of features and their default value, protected by fMu
var features = map[FeatureFlag]bool{
	unused:                false,
	SequentialPrimeSearch: false,
	NoCooperativeYield:    false,
}

var fMu = new(sync.RWMutex)

var initial = map[FeatureFlag]bool{}

var nameToFeature = make(map[string]FeatureFlag, len(features))

func init() {
	for f, v := range features {
		nameToFeature[f.String()] = f
		initial[f] = v
	}
}

// Set accepts a list of features and whether they should
// be enabled or disabled. It will return a error if passed
// a feature name that it doesn't know
func Set(featureSet map[string]bool) error {
	fMu.Lock()
	defer fMu.Unlock()
	for n, v := range featureSet {
		f, present := nameToFeature[n]
		if !present {
			return fmt.Errorf("feature '%s' doesn't exist", n)
		}
		features[f] = v
	}
	return nil
}

// Enabled returns true if the feature is enabled or false
// if it isn't, it will panic if passed a feature that it
// doesn't know.
func Enabled(n FeatureFlag) bool {
	fMu.RLock()
	defer fMu.RUnlock()
	v, present := features[n]
	if !present {
		panic(fmt.Sprintf("feature '%s' doesn't exist", n.String()))
	}
	return v
}

// Reset resets the features to their initial state
func Reset() {
	fMu.Lock()
	defer fMu.Unlock()
	for k, v := range initial {
		features[k] = v
	}
}
