package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/storytrim/server/internal/parsers"
)

// ParserRulesStore holds the current chapter parser rules. When the server
// runs with a config file, the rules are reloaded whenever that file changes.
type ParserRulesStore struct {
	mu      sync.RWMutex
	current Parser
	onError func(error)
}

// NewParserRulesStore seeds the store with the rules read at startup.
func NewParserRulesStore(initial Parser) *ParserRulesStore {
	return &ParserRulesStore{current: initial}
}

// Get returns a copy of the current rules.
func (s *ParserRulesStore) Get() Parser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]ParserRule, len(s.current.Rules))
	copy(rules, s.current.Rules)
	return Parser{Version: s.current.Version, Rules: rules}
}

// Rules returns the current rules in parser form. An empty result makes the
// parser fall back to its defaults.
func (s *ParserRulesStore) Rules() []parsers.Rule {
	p := s.Get()
	if len(p.Rules) == 0 {
		return nil
	}
	rules := make([]parsers.Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		rules = append(rules, parsers.Rule{Name: r.Name, Pattern: r.Pattern, Weight: r.Weight})
	}
	return rules
}

// Set replaces the current rules.
func (s *ParserRulesStore) Set(p Parser) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
}

// OnReloadError registers a callback for rule files that fail to decode.
func (s *ParserRulesStore) OnReloadError(fn func(error)) {
	s.onError = fn
}

// Watch re-reads the parser section from v each time its config file is
// written. It is a no-op when v has no config file.
func (s *ParserRulesStore) Watch(v *viper.Viper, onChange func(Parser)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var p Parser
		if err := v.UnmarshalKey("parser", &p); err != nil {
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		if p.Version == 0 {
			p.Version = 1
		}
		s.Set(p)
		if onChange != nil {
			onChange(p)
		}
	})
	v.WatchConfig()
}
