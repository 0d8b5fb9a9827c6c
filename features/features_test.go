package features

import (
	"testing"

	"github.com/native-crypto/genrsa/test"
)

func TestFeatures(t *testing.T) {
	defer Reset()
	test.Assert(t, !Enabled(SequentialPrimeSearch), "SequentialPrimeSearch shouldn't be enabled by default")

	err := Set(map[string]bool{"SequentialPrimeSearch": true})
	test.AssertNotError(t, err, "Set shouldn't have failed setting existing features")
	test.Assert(t, Enabled(SequentialPrimeSearch), "SequentialPrimeSearch should be enabled")
	test.Assert(t, !Enabled(NoCooperativeYield), "NoCooperativeYield shouldn't be enabled")

	Reset()
	test.Assert(t, !Enabled(SequentialPrimeSearch), "SequentialPrimeSearch shouldn't be enabled after Reset")

	err = Set(map[string]bool{"non-existent": true})
	test.AssertError(t, err, "Set should've failed trying to enable a non-existent feature")

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Enabled did not panic on an unknown feature")
		}
	}()
	Enabled(FeatureFlag(42))
}

func TestString(t *testing.T) {
	test.AssertEquals(t, NoCooperativeYield.String(), "NoCooperativeYield")
	test.AssertEquals(t, FeatureFlag(42).String(), "FeatureFlag(42)")
}
