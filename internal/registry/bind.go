package registry

import (
	"encoding/json"
	"fmt"

	"github.com/specialistvlad/actiongrid/internal/node"
)

// Bind decodes resolved arguments into dst, a pointer to a struct with json
// tags. Capabilities use it to work with typed inputs. A failure is
// permanent: the same arguments will never decode on a retry.
func Bind(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return node.Permanent(fmt.Errorf("arguments are not serialisable: %w", err))
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return node.Permanent(fmt.Errorf("failed to decode arguments: %w", err))
	}
	return nil
}
