package api

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Config holds the subset of a HuggingFace tokenizer_config.json that the tokenizers in this module use.
// Presets resolved by a hub.Registry carry one.
type Config struct {
	TokenizerClass string     `json:"tokenizer_class"`
	BosToken       TokenValue `json:"bos_token"`
	EosToken       TokenValue `json:"eos_token"`
	UnkToken       TokenValue `json:"unk_token"`
	PadToken       TokenValue `json:"pad_token"`
	AddPrefixSpace bool       `json:"add_prefix_space"`
	ModelMaxLength int        `json:"model_max_length"`
}

// TokenValue is the content of a special token in tokenizer_config.json.
//
// Older files store it as a plain string, newer ones as an AddedToken object ({"content": "...", ...}):
// both are accepted.
type TokenValue string

// UnmarshalJSON implements json.Unmarshaler.
func (v *TokenValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = TokenValue(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrapf(err, "special token must be a string or an object with \"content\", got %s", data)
	}
	*v = TokenValue(obj.Content)
	return nil
}

// ParseConfig parses the contents of a tokenizer_config.json file.
func ParseConfig(content []byte) (*Config, error) {
	config := &Config{}
	if err := json.Unmarshal(content, config); err != nil {
		return nil, Wrapf(ErrConfig, err, "failed to parse tokenizer_config.json")
	}
	return config, nil
}
