// Package report renders a computed plan for consumption by humans
// (aligned table), machines (json, also the previous-plan format) or
// templating tools (yaml anchors).
package report

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

// Formats lists the supported output formats.
var Formats = []string{"human", "json", "yaml-anchors"}

// Render renders the plan in the requested format.
func Render(p *plan.Plan, format string) (string, error) {
	switch format {
	case "human":
		return Human(p), nil
	case "json":
		return JSON(p)
	case "yaml-anchors":
		return YAMLAnchors(p), nil
	default:
		return "", errors.Errorf("unsupported output format %q", format)
	}
}

// JSON renders the plan as indented json. This is also the format consumed
// as the previous plan of an incremental run; the round trip is lossless.
func JSON(p *plan.Plan) (string, error) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
