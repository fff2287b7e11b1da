package llm

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
)

// ParseJSON decodes a model reply into v. Code fences are stripped first; if
// the strict decode fails the text is repaired and decoded again. The
// original decode error is returned when both attempts fail.
func ParseJSON(text string, v any) error {
	text = StripCodeFence(text)
	if text == "" {
		return ErrEmptyCompletion
	}
	err := jsoniter.UnmarshalFromString(text, v)
	if err == nil {
		return nil
	}
	originalErr := err

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return fmt.Errorf("decode json reply: %w", originalErr)
	}
	if err := jsoniter.UnmarshalFromString(repaired, v); err != nil {
		return fmt.Errorf("decode json reply: %w", originalErr)
	}
	return nil
}
