package service

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"ramp/internal/models"
)

type fakeStore struct {
	states  map[string]*models.RampState
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*models.RampState)}
}

func (f *fakeStore) SaveRampState(ctx context.Context, state *models.RampState) error {
	copied := *state
	f.states[state.ID] = &copied
	return nil
}

func (f *fakeStore) LoadRampState(ctx context.Context, id string) (*models.RampState, error) {
	return f.states[id], nil
}

func (f *fakeStore) DeleteRampState(ctx context.Context, id string) error {
	delete(f.states, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) ListActiveRampStates(ctx context.Context) ([]*models.RampState, error) {
	var out []*models.RampState
	for _, s := range f.states {
		if !s.Phase.Terminal() {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeSweeper struct {
	swept int
}

func (f *fakeSweeper) Sweep(ctx context.Context, keys models.EphemeralKeys) error {
	f.swept++
	return nil
}

func TestCreateRamp(t *testing.T) {
	store := newFakeStore()
	svc := NewRampService(store, &fakeSweeper{}, zap.NewNop())

	state, err := svc.CreateRamp(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateRamp: %v", err)
	}
	if state.ID == "" {
		t.Error("ramp id not assigned")
	}
	if state.Phase != models.PhaseInitial {
		t.Errorf("phase = %s, want initial", state.Phase)
	}
	if _, ok := store.states[state.ID]; !ok {
		t.Error("initial checkpoint not persisted")
	}
}

func TestCreateRampRejectsInvalidInput(t *testing.T) {
	svc := NewRampService(newFakeStore(), &fakeSweeper{}, zap.NewNop())

	input := validInput()
	input.AnchorDomain = ""
	if _, err := svc.CreateRamp(context.Background(), input); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAbandonRampOnlyWhenFailed(t *testing.T) {
	store := newFakeStore()
	sweeper := &fakeSweeper{}
	svc := NewRampService(store, sweeper, zap.NewNop())

	state, err := svc.CreateRamp(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	err = svc.AbandonRamp(context.Background(), state.ID)
	if err == nil || !strings.Contains(err.Error(), "only failed ramps") {
		t.Fatalf("error = %v, want abandon rejection for active ramp", err)
	}

	stored := store.states[state.ID]
	stored.Keys = models.EphemeralKeys{StellarAddress: "G", StellarSecret: "S"}
	stored.Fail("anchor rejected settlement", "fatal")

	if err := svc.AbandonRamp(context.Background(), state.ID); err != nil {
		t.Fatalf("AbandonRamp: %v", err)
	}
	if sweeper.swept != 1 {
		t.Errorf("sweeps = %d, want 1", sweeper.swept)
	}
	if len(store.deleted) != 1 || store.deleted[0] != state.ID {
		t.Errorf("checkpoint not deleted: %v", store.deleted)
	}
}

func TestAbandonUnknownRamp(t *testing.T) {
	svc := NewRampService(newFakeStore(), &fakeSweeper{}, zap.NewNop())
	if err := svc.AbandonRamp(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown ramp")
	}
}
