package models

import "testing"

func TestSequencesAreForwardOnly(t *testing.T) {
	for _, d := range []Direction{DirectionOfframp, DirectionOnramp} {
		seq := Sequence(d)
		if seq[0] != PhaseInitial {
			t.Errorf("%s starts at %s", d, seq[0])
		}
		if seq[len(seq)-1] != PhaseSuccess {
			t.Errorf("%s ends at %s", d, seq[len(seq)-1])
		}
		for i, p := range seq[:len(seq)-1] {
			next, err := Next(d, p)
			if err != nil {
				t.Fatalf("%s Next(%s): %v", d, p, err)
			}
			if next != seq[i+1] {
				t.Errorf("%s Next(%s) = %s, want %s", d, p, next, seq[i+1])
			}
			if Index(d, next) != Index(d, p)+1 {
				t.Errorf("%s index of %s not one past %s", d, next, p)
			}
		}
	}
}

func TestNextOfTerminalFails(t *testing.T) {
	if _, err := Next(DirectionOfframp, PhaseSuccess); err == nil {
		t.Error("Next(success) should fail")
	}
	if _, err := Next(DirectionOnramp, PhaseFailed); err == nil {
		t.Error("Next(failed) should fail")
	}
}

func TestOnrampSkipsVaultPhases(t *testing.T) {
	for _, p := range []Phase{PhaseRedeemRequest, PhaseRedeemWait, PhaseSettle} {
		if Index(DirectionOnramp, p) != -1 {
			t.Errorf("onramp traversal contains %s", p)
		}
	}
}

func TestFailedOrdersAfterEverything(t *testing.T) {
	for _, p := range Sequence(DirectionOfframp) {
		if p == PhaseSuccess {
			continue
		}
		if Index(DirectionOfframp, PhaseFailed) <= Index(DirectionOfframp, p) {
			t.Errorf("failed not ordered after %s", p)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !PhaseSuccess.Terminal() || !PhaseFailed.Terminal() {
		t.Error("success and failed are terminal")
	}
	if PhaseCleanup.Terminal() {
		t.Error("cleanup is not terminal")
	}
}

func TestValid(t *testing.T) {
	if !PhaseRedeemWait.Valid() {
		t.Error("redeemWait is valid")
	}
	if Phase("warp").Valid() {
		t.Error("unknown phase reported valid")
	}
}
