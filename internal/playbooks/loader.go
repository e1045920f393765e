package playbooks

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fleetvisor/fleetvisor/internal/models"
)

// packFile is the YAML root structure of a playbook pack.
type packFile struct {
	Playbooks []*models.Playbook `yaml:"playbooks"`
}

// LoadPack reads additional playbooks from a YAML pack. An empty path or a
// missing file yields no playbooks and no error, so packs stay optional.
func LoadPack(path string) ([]*models.Playbook, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read playbook pack: %w", err)
	}

	var pack packFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse playbook pack: %w", err)
	}

	for i, pb := range pack.Playbooks {
		if pb.Name == "" {
			return nil, fmt.Errorf("playbook %d in pack has no name", i)
		}
		if len(pb.Actions) == 0 {
			return nil, fmt.Errorf("playbook %q has no actions", pb.Name)
		}
		for _, action := range pb.Actions {
			switch action.Type {
			case models.ActionInvestigate, models.ActionK8sQuery, models.ActionNotify,
				models.ActionRecommend, models.ActionCorrelate, models.ActionRemediate:
			default:
				return nil, fmt.Errorf("playbook %q action %q has unknown type %q", pb.Name, action.Name, action.Type)
			}
		}
	}
	return pack.Playbooks, nil
}
