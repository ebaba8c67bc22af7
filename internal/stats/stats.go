// Package stats renders an AppManager.Stats() snapshot as YAML,
// mirroring the host's own YAML-based configuration idiom rather than
// introducing a second serialization format.
package stats

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/lssahost/lssa/internal/manager"
)

// Write renders snap as a YAML document to w.
func Write(w io.Writer, snap manager.Stats) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("stats: marshaling snapshot: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("stats: writing snapshot: %w", err)
	}
	return nil
}
