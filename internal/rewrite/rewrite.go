// Package rewrite maps inbound model identifiers onto a provider's tier mapping.
package rewrite

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

// Tier is a coarse model-capability class.
type Tier int

const (
	TierNone Tier = iota
	TierLow       // haiku
	TierMid       // sonnet
	TierHigh      // opus
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "haiku"
	case TierMid:
		return "sonnet"
	case TierHigh:
		return "opus"
	default:
		return "none"
	}
}

// tierTokens is checked in order; the first token contained in the model wins.
var tierTokens = []struct {
	tier  Tier
	token string
}{
	{TierLow, "haiku"},
	{TierMid, "sonnet"},
	{TierHigh, "opus"},
}

// Classify returns the tier whose token the model contains, case-insensitively.
// Priority is low, then mid, then high regardless of where the token appears.
func Classify(model string) Tier {
	lower := strings.ToLower(model)
	for _, tt := range tierTokens {
		if strings.Contains(lower, tt.token) {
			return tt.tier
		}
	}
	return TierNone
}

// Target returns the mapped identifier for tier, or "" for TierNone.
func Target(m profile.ModelMapping, tier Tier) string {
	switch tier {
	case TierLow:
		return m.Haiku
	case TierMid:
		return m.Sonnet
	case TierHigh:
		return m.Opus
	default:
		return ""
	}
}

// Model returns the identifier to send upstream for model.
// Passthrough providers and unclassified models are returned unchanged.
func Model(model string, p profile.Provider) string {
	if p.Models == nil {
		return model
	}
	tier := Classify(model)
	if tier == TierNone {
		return model
	}
	return Target(*p.Models, tier)
}

// SerializationError reports a failure to write the rewritten model back into
// a body that had already parsed successfully.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize rewritten request body: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Result describes what Body did.
type Result struct {
	Body      []byte
	FromModel string
	ToModel   string
	Rewritten bool
}

// Body rewrites the top-level "model" field of a JSON object body.
// Bodies that are empty, not JSON, not an object, or lack a string "model"
// field are returned unmodified. Only the model value changes; the rest of
// the document keeps its original bytes.
func Body(body []byte, p profile.Provider) (Result, error) {
	res := Result{Body: body}
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return res, nil
	}
	if !gjson.ParseBytes(body).IsObject() {
		return res, nil
	}
	field := gjson.GetBytes(body, "model")
	if field.Type != gjson.String {
		return res, nil
	}

	res.FromModel = field.String()
	res.ToModel = Model(res.FromModel, p)
	if res.ToModel == res.FromModel {
		return res, nil
	}

	out, err := sjson.SetBytes(body, "model", res.ToModel)
	if err != nil {
		return Result{Body: body, FromModel: res.FromModel}, &SerializationError{Err: err}
	}
	res.Body = out
	res.Rewritten = true
	return res, nil
}
