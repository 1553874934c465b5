package engine

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// EventRecord is one event as written in an event file.
type EventRecord struct {
	Chain     uint64         `yaml:"chain"`
	Block     uint64         `yaml:"block"`
	Timestamp uint64         `yaml:"timestamp"`
	Tx        string         `yaml:"tx,omitempty"`
	LogIndex  uint           `yaml:"log_index"`
	Contract  string         `yaml:"contract"`
	Event     string         `yaml:"event"`
	Args      map[string]any `yaml:"args"`
}

// ContractResolver turns the contract field of a record into an address.
// Files may name contracts by alias; HexContract accepts addresses only.
type ContractResolver func(chainID uint64, contract string) (common.Address, error)

// HexContract resolves hex addresses.
func HexContract(_ uint64, contract string) (common.Address, error) {
	if !common.IsHexAddress(contract) {
		return common.Address{}, fmt.Errorf("contract %q is not an address", contract)
	}
	return common.HexToAddress(contract), nil
}

// ToEvent converts the record, resolving its contract with resolve.
func (r EventRecord) ToEvent(resolve ContractResolver) (Event, error) {
	if r.Event == "" {
		return Event{}, errors.New("event name is required")
	}
	if resolve == nil {
		resolve = HexContract
	}
	contract, err := resolve(r.Chain, r.Contract)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		ChainID:        r.Chain,
		BlockNumber:    r.Block,
		BlockTimestamp: r.Timestamp,
		LogIndex:       r.LogIndex,
		Contract:       contract,
		Name:           r.Event,
		Args:           Args(r.Args),
	}
	if r.Tx != "" {
		ev.TransactionHash = common.HexToHash(r.Tx)
	}
	if ev.Args == nil {
		ev.Args = Args{}
	}
	return ev, nil
}

type eventFile struct {
	Events []EventRecord `yaml:"events"`
}

// ReadEvents decodes an event file. Unknown fields are rejected.
func ReadEvents(r io.Reader) ([]EventRecord, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f eventFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return f.Events, nil
}

// LoadEvents reads the event file at path.
func LoadEvents(path string) ([]EventRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer f.Close()
	events, err := ReadEvents(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}
