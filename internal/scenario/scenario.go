// Package scenario loads YAML routing scenarios and replays them against a
// policy manager. Scenarios drive the simulator and double as regression
// fixtures.
package scenario

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiopolicy/internal/errors"
)

// ComponentScenario identifies errors of this package.
const ComponentScenario = "scenario"

// Scenario is a named list of steps.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// MSD adds the multi-stream decoder module to the simulated platform.
	MSD   bool   `yaml:"msd"`
	Steps []Step `yaml:"steps"`
}

// Step is one action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`
	// Client names a playback or capture client for later steps.
	Client string `yaml:"client"`

	Device  string `yaml:"device"`
	Address string `yaml:"address"`
	Name    string `yaml:"name"`

	Mode    string `yaml:"mode"`
	Usage   string `yaml:"usage"`
	Config  string `yaml:"config"`
	Stream  string `yaml:"stream"`
	Source  string `yaml:"source"`
	Index   int    `yaml:"index"`
	UID     uint32 `yaml:"uid"`
	Enabled bool   `yaml:"enabled"`

	Expect *Expect `yaml:"expect"`
}

// Expect is checked after the step ran.
type Expect struct {
	// Error is the expected error category, "" requires success.
	Error string `yaml:"error"`
	// Device is the expected device of Stream after the step.
	Device string `yaml:"device"`
	Stream string `yaml:"stream"`
}

// Action names.
const (
	ActionConnect     = "connect"
	ActionDisconnect  = "disconnect"
	ActionPhoneState  = "phone_state"
	ActionForceUse    = "force_use"
	ActionPlay        = "play"
	ActionStop        = "stop"
	ActionRelease     = "release"
	ActionRecord      = "record"
	ActionStopRecord  = "stop_record"
	ActionVolume      = "volume"
	ActionMasterMono  = "master_mono"
	ActionReleaseUID  = "release_uid"
	ActionExpectRoute = "expect_route"
)

var knownActions = map[string]bool{
	ActionConnect: true, ActionDisconnect: true, ActionPhoneState: true,
	ActionForceUse: true, ActionPlay: true, ActionStop: true, ActionRelease: true,
	ActionRecord: true, ActionStopRecord: true, ActionVolume: true,
	ActionMasterMono: true, ActionReleaseUID: true, ActionExpectRoute: true,
}

func invalid(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(ComponentScenario).
		Category(errors.CategoryValidation).
		Build()
}

// Parse decodes a scenario document. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, errors.New(err).
			Component(ComponentScenario).
			Category(errors.CategoryValidation).
			Context("operation", "decode").
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentScenario).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return Parse(data)
}

// Validate checks the actions and the client references of every step.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return invalid("scenario %q has no steps", s.Name)
	}
	clients := make(map[string]string)
	for i, step := range s.Steps {
		if !knownActions[step.Action] {
			return invalid("step %d: unknown action %q", i+1, step.Action)
		}
		switch step.Action {
		case ActionPlay, ActionRecord:
			if step.Client == "" {
				return invalid("step %d: %s needs a client name", i+1, step.Action)
			}
			clients[step.Client] = step.Action
		case ActionStop, ActionRelease:
			if clients[step.Client] != ActionPlay {
				return invalid("step %d: no playback client %q", i+1, step.Client)
			}
		case ActionStopRecord:
			if clients[step.Client] != ActionRecord {
				return invalid("step %d: no capture client %q", i+1, step.Client)
			}
		}
	}
	return nil
}
