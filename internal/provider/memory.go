package provider

import (
	"context"
	"sync"
)

// Memory is an in-memory Client for tests and offline runs. Errors can be
// injected per method and per app.
type Memory struct {
	mu sync.Mutex

	Games       map[string][]GameSummary
	States      map[string]map[int64][]AchievementState // account -> app -> states
	Percentages map[int64]map[string]float64
	Schemas     map[int64][]AchievementDef
	OwnedErr    error
	StatesErr   map[int64]error
	PercentErr  map[int64]error
	SchemaErr   map[int64]error
	calls       map[string]int
}

var _ Client = (*Memory)(nil)

// NewMemory returns an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		Games:       make(map[string][]GameSummary),
		States:      make(map[string]map[int64][]AchievementState),
		Percentages: make(map[int64]map[string]float64),
		Schemas:     make(map[int64][]AchievementDef),
		StatesErr:   make(map[int64]error),
		PercentErr:  make(map[int64]error),
		SchemaErr:   make(map[int64]error),
		calls:       make(map[string]int),
	}
}

// AddGame registers an owned game along with its schema and the account's
// states.
func (m *Memory) AddGame(accountID string, game GameSummary, defs []AchievementDef, states []AchievementState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Games[accountID] = append(m.Games[accountID], game)
	if defs != nil {
		m.Schemas[game.AppID] = defs
	}
	if m.States[accountID] == nil {
		m.States[accountID] = make(map[int64][]AchievementState)
	}
	m.States[accountID][game.AppID] = states
}

// SetStates replaces the account's states for a game.
func (m *Memory) SetStates(accountID string, appID int64, states []AchievementState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.States[accountID] == nil {
		m.States[accountID] = make(map[int64][]AchievementState)
	}
	m.States[accountID][appID] = states
}

// SetPercentages sets the global percentages of a game.
func (m *Memory) SetPercentages(appID int64, pct map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Percentages[appID] = pct
}

// FailStates makes ListUserAchievements fail for appID. A nil err clears it.
func (m *Memory) FailStates(appID int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.StatesErr, appID)
		return
	}
	m.StatesErr[appID] = err
}

// FailOwned makes ListOwnedGames fail. A nil err clears it.
func (m *Memory) FailOwned(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OwnedErr = err
}

// Calls returns how many times method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Memory) ListOwnedGames(ctx context.Context, accountID string) ([]GameSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListOwnedGames"]++
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "owned_games", Err: err}
	}
	if m.OwnedErr != nil {
		return nil, m.OwnedErr
	}
	out := make([]GameSummary, len(m.Games[accountID]))
	copy(out, m.Games[accountID])
	return out, nil
}

func (m *Memory) ListUserAchievements(ctx context.Context, accountID string, appID int64) ([]AchievementState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ListUserAchievements"]++
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "player_achievements", Err: err}
	}
	if err := m.StatesErr[appID]; err != nil {
		return nil, err
	}
	states := m.States[accountID][appID]
	out := make([]AchievementState, len(states))
	copy(out, states)
	return out, nil
}

func (m *Memory) GetGlobalPercentages(ctx context.Context, appID int64) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetGlobalPercentages"]++
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "global_percentages", Err: err}
	}
	if err := m.PercentErr[appID]; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(m.Percentages[appID]))
	for k, v := range m.Percentages[appID] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) GetSchema(ctx context.Context, appID int64) ([]AchievementDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetSchema"]++
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "schema", Err: err}
	}
	if err := m.SchemaErr[appID]; err != nil {
		return nil, err
	}
	defs := m.Schemas[appID]
	out := make([]AchievementDef, len(defs))
	copy(out, defs)
	return out, nil
}
