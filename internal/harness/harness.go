package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/engine"
	"github.com/roach88/namegraph/internal/heal"
	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/manifest"
	"github.com/roach88/namegraph/internal/snapshot"
	"github.com/roach88/namegraph/internal/store"
	"github.com/roach88/namegraph/internal/testutil"
)

// baseTimestamp is the timestamp of block 0 in scenarios that do not set
// one.
const baseTimestamp = 1_700_000_000

// Harness runs one scenario.
type Harness struct {
	store   *store.DB
	engine  *engine.Engine
	aliases Aliases
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Load the manifest and build contract aliases
// 2. Create the engine with a static healer and a fixed run id
// 3. Process the events, checking expected errors
// 4. Evaluate assertions and render the final tree
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	m, err := loadManifest(scenario.Manifest)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(st, m, heal.NewStatic(scenario.Labels...),
		engine.WithLogger(logger),
		engine.WithRunIDGenerator(testutil.FixedRunID("scenario-"+scenario.Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := eng.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init engine: %w", err)
	}

	aliases, err := NewAliases(m)
	if err != nil {
		return nil, err
	}

	h := &Harness{store: st, engine: eng, aliases: aliases, logger: logger}

	result := NewResult()
	if err := h.executeEvents(ctx, scenario.Events, result); err != nil {
		return nil, fmt.Errorf("failed to execute events: %w", err)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	counts, err := st.Counts(ctx)
	if err != nil {
		return nil, err
	}
	for k, n := range counts {
		result.Counts[string(k)] = n
	}
	result.Tree, err = snapshot.Tree(ctx, st, ident.HashID(ident.RootNode))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		return manifest.Default()
	}
	return manifest.Load(path)
}

// executeEvents processes the scenario's events in order. An event failing
// with its expected code, or succeeding when it was expected to, is a
// scenario error; the run continues either way. Only a bad event definition
// aborts the run.
func (h *Harness) executeEvents(ctx context.Context, steps []EventStep, result *Result) error {
	var block uint64 = 1
	var next uint

	for i, step := range steps {
		if step.Block != nil && *step.Block != block {
			block, next = *step.Block, 0
		}
		if step.LogIndex != nil {
			next = *step.LogIndex
		}

		chain := step.Chain
		if chain == 0 {
			chain = 1
		}
		ts := step.Timestamp
		if ts == 0 {
			ts = baseTimestamp + block*testutil.BlockTime
		}

		rec := engine.EventRecord{
			Chain:     chain,
			Block:     block,
			Timestamp: ts,
			LogIndex:  next,
			Contract:  step.Contract,
			Event:     step.Event,
			Args:      step.Args,
		}
		ev, err := rec.ToEvent(h.aliases.Resolve)
		if err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		next++

		trace := TraceEvent{
			Block:    block,
			LogIndex: ev.LogIndex,
			Contract: step.Contract,
			Event:    step.Event,
		}
		outcome, err := h.engine.Process(ctx, ev)
		switch {
		case err != nil:
			code := engine.CodeOf(err)
			trace.Outcome, trace.Code = "failed", string(code)
			if string(code) != step.ExpectError {
				result.AddError(fmt.Sprintf("events[%d] %s: unexpected error: %v", i, step.Event, err))
			}
		case step.ExpectError != "":
			trace.Outcome = string(outcome)
			result.AddError(fmt.Sprintf("events[%d] %s: expected %s, got %s", i, step.Event, step.ExpectError, outcome))
		default:
			trace.Outcome = string(outcome)
		}
		result.AddTrace(trace)
	}
	return nil
}

// Aliases maps role aliases to contract addresses per chain.
type Aliases map[uint64]map[string]common.Address

// NewAliases derives the aliases of m's routes. The first contract with a
// role on a chain is the bare role name; later ones get ".1", ".2", ...
func NewAliases(m *manifest.Manifest) (Aliases, error) {
	routes, err := m.Routes()
	if err != nil {
		return nil, err
	}
	a := Aliases{}
	seen := map[string]int{}
	for _, r := range routes {
		if a[r.ChainID] == nil {
			a[r.ChainID] = map[string]common.Address{}
		}
		key := fmt.Sprintf("%d/%s", r.ChainID, r.Role)
		name := string(r.Role)
		if n := seen[key]; n > 0 {
			name = fmt.Sprintf("%s.%d", r.Role, n)
		}
		seen[key]++
		a[r.ChainID][name] = r.Address
	}
	return a, nil
}

// Resolve implements engine.ContractResolver.
func (a Aliases) Resolve(chainID uint64, contract string) (common.Address, error) {
	if strings.HasPrefix(contract, "0x") {
		return engine.HexContract(chainID, contract)
	}
	if addr, ok := a[chainID][contract]; ok {
		return addr, nil
	}
	return common.Address{}, errors.New("unknown contract alias " + contract)
}
