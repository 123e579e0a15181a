package universe

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument maps a display symbol to its Yahoo Finance ticker.
type Instrument struct {
	Symbol   string `yaml:"symbol"`
	Yahoo    string `yaml:"yahoo"`
	Category string `yaml:"category"`
}

// Ticker returns the upstream ticker, falling back to the display symbol.
func (i Instrument) Ticker() string {
	if i.Yahoo != "" {
		return i.Yahoo
	}
	return i.Symbol
}

// Universe is an ordered list of instruments. Analysis visits symbols in
// this order.
type Universe struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Default is the built-in instrument list used when no universe file is set.
func Default() Universe {
	return Universe{Instruments: []Instrument{
		{Symbol: "MNQ", Yahoo: "^IXIC", Category: "index"},
		{Symbol: "NVDA", Yahoo: "NVDA", Category: "stock"},
		{Symbol: "AMD", Yahoo: "AMD", Category: "stock"},
		{Symbol: "WDC", Yahoo: "WDC", Category: "stock"},
		{Symbol: "SLV", Yahoo: "SLV", Category: "commodity"},
		{Symbol: "GS", Yahoo: "GS", Category: "stock"},
		{Symbol: "NET", Yahoo: "NET", Category: "stock"},
		{Symbol: "EWJ", Yahoo: "EWJ", Category: "index"},
		{Symbol: "EURUSD", Yahoo: "EURUSD=X", Category: "forex"},
		{Symbol: "INRJPY", Yahoo: "INRJPY=X", Category: "forex"},
		{Symbol: "STLD", Yahoo: "STLD", Category: "stock"},
		{Symbol: "CRCL", Yahoo: "CRCL", Category: "stock"},
		{Symbol: "UBS", Yahoo: "UBS", Category: "stock"},
		{Symbol: "TTWO", Yahoo: "TTWO", Category: "stock"},
		{Symbol: "ETHUSD", Yahoo: "ETH-USD", Category: "crypto"},
	}}
}

// Load reads a YAML universe file. An empty path yields Default().
func Load(path string) (Universe, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Universe{}, fmt.Errorf("read universe: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML universe data and validates it.
func Parse(data []byte) (Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return Universe{}, fmt.Errorf("parse universe: %w", err)
	}
	if err := u.Validate(); err != nil {
		return Universe{}, err
	}
	return u, nil
}

// Validate rejects empty lists, blank symbols, symbols containing the key
// separator and duplicates.
func (u Universe) Validate() error {
	if len(u.Instruments) == 0 {
		return fmt.Errorf("universe has no instruments")
	}
	seen := make(map[string]struct{}, len(u.Instruments))
	for i, inst := range u.Instruments {
		sym := strings.TrimSpace(inst.Symbol)
		if sym == "" {
			return fmt.Errorf("universe instrument %d has no symbol", i)
		}
		if strings.Contains(sym, ":") {
			return fmt.Errorf("universe symbol %q must not contain ':'", sym)
		}
		if _, dup := seen[sym]; dup {
			return fmt.Errorf("universe symbol %q listed twice", sym)
		}
		seen[sym] = struct{}{}
	}
	return nil
}

// Symbols returns the display symbols in universe order.
func (u Universe) Symbols() []string {
	out := make([]string, 0, len(u.Instruments))
	for _, inst := range u.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

// Select narrows the universe to symbols, keeping the caller's order.
// Symbols unknown to the universe are kept with their own name as ticker.
func (u Universe) Select(symbols []string) Universe {
	if len(symbols) == 0 {
		return u
	}
	bySymbol := make(map[string]Instrument, len(u.Instruments))
	for _, inst := range u.Instruments {
		bySymbol[inst.Symbol] = inst
	}
	out := Universe{}
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		inst, ok := bySymbol[sym]
		if !ok {
			inst = Instrument{Symbol: sym}
		}
		out.Instruments = append(out.Instruments, inst)
	}
	return out
}
