package decoding

import (
	"fmt"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// EndToken is the set of tokens that end decoding for an element. It is given
// either as token strings or as token ids; a single string is the common case.
type EndToken struct {
	Tokens []string `json:"tokens,omitempty" yaml:"tokens,omitempty" toml:"tokens,omitempty"`
	IDs    []int    `json:"ids,omitempty" yaml:"ids,omitempty" toml:"ids,omitempty"`
}

// EndTokenString ends decoding on a single token.
func EndTokenString(tok string) EndToken { return EndToken{Tokens: []string{tok}} }

// EndTokens ends decoding on any of toks.
func EndTokens(toks ...string) EndToken { return EndToken{Tokens: append([]string(nil), toks...)} }

// EndTokenIDs ends decoding on any of ids.
func EndTokenIDs(ids ...int) EndToken { return EndToken{IDs: append([]int(nil), ids...)} }

// IsEmpty reports whether no end token was given.
func (e EndToken) IsEmpty() bool { return len(e.Tokens) == 0 && len(e.IDs) == 0 }

// Clone returns a deep copy.
func (e EndToken) Clone() EndToken {
	var c EndToken
	if e.Tokens != nil {
		c.Tokens = append([]string(nil), e.Tokens...)
	}
	if e.IDs != nil {
		c.IDs = append([]int(nil), e.IDs...)
	}
	return c
}

// UnmarshalJSON accepts a string, a list of strings, a list of ids, or the
// object form {"tokens": [...], "ids": [...]}.
func (e *EndToken) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = EndToken{}
		if s != "" {
			*e = EndTokenString(s)
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err == nil {
		*e = EndToken{}
		if len(raw) == 0 {
			return nil
		}
		var toks []string
		if err := json.Unmarshal(b, &toks); err == nil {
			e.Tokens = toks
			return nil
		}
		var ids []int
		if err := json.Unmarshal(b, &ids); err == nil {
			e.IDs = ids
			return nil
		}
		return fmt.Errorf("end_token: list must hold only strings or only ids")
	}
	type plain EndToken
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("end_token: %w", err)
	}
	*e = EndToken(p)
	return nil
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON.
func (e *EndToken) UnmarshalYAML(n *yaml.Node) error {
	*e = EndToken{}
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return fmt.Errorf("end_token: %w", err)
		}
		if s != "" {
			*e = EndTokenString(s)
		}
		return nil
	case yaml.SequenceNode:
		var ids []int
		if err := n.Decode(&ids); err == nil {
			e.IDs = ids
			return nil
		}
		var toks []string
		if err := n.Decode(&toks); err != nil {
			return fmt.Errorf("end_token: %w", err)
		}
		e.Tokens = toks
		return nil
	}
	type plain EndToken
	var p plain
	if err := n.Decode(&p); err != nil {
		return fmt.Errorf("end_token: %w", err)
	}
	*e = EndToken(p)
	return nil
}
