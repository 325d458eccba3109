package scenario

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/hal/simhal"
	"github.com/tphakala/audiopolicy/internal/logging"
	"github.com/tphakala/audiopolicy/internal/policy"
)

const defaultUID audio.UID = 10000

// Result is the outcome of one step.
type Result struct {
	Step   int
	Action string
	Detail string
	Err    error
	// Passed is false when the step outcome contradicts its expectation.
	Passed bool
	// Failure explains a failed expectation.
	Failure string
}

// Report is the outcome of a scenario run.
type Report struct {
	RunID    string
	Scenario string
	Results  []Result
	Failed   int
	Snapshot policy.Snapshot
}

type client struct {
	port audio.PortHandle
}

// Runner replays scenarios against one manager.
type Runner struct {
	manager *policy.Manager
	clients map[string]client
	session audio.Session
	logger  *slog.Logger
}

// NewRunner returns a runner driving m.
func NewRunner(m *policy.Manager) *Runner {
	return &Runner{
		manager: m,
		clients: make(map[string]client),
		logger:  logging.ForService("scenario"),
	}
}

// NewManager builds and initializes a manager on the simulated platform the
// scenario asks for.
func NewManager(s *Scenario, opts ...policy.Option) (*policy.Manager, *simhal.Sim, error) {
	var platformOpts []simhal.PlatformOption
	if s.MSD {
		platformOpts = append(platformOpts, simhal.WithMSD())
	}
	cfg := simhal.DefaultPlatform(platformOpts...)
	sim := simhal.New(simhal.ModuleNames(cfg)...)
	m := policy.New(cfg, sim, opts...)
	if err := m.Initialize(); err != nil {
		return nil, nil, err
	}
	return m, sim, nil
}

// Run executes every step in order. Step failures are recorded in the report,
// only cancellation of ctx aborts the run.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Scenario: s.Name}
	logger := r.logger.With("run_id", report.RunID, "scenario", s.Name)
	logger.Info("scenario started", "steps", len(s.Steps))

	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		step := &s.Steps[i]
		detail, err := r.apply(step)
		res := Result{Step: i + 1, Action: step.Action, Detail: detail, Err: err}
		res.Passed, res.Failure = r.check(step, err)
		if !res.Passed {
			report.Failed++
			logger.Warn("step failed", "step", res.Step, "action", step.Action, "reason", res.Failure)
		} else {
			logger.Debug("step done", "step", res.Step, "action", step.Action, "detail", detail)
		}
		report.Results = append(report.Results, res)
	}

	report.Snapshot = r.manager.Snapshot()
	logger.Info("scenario finished", "failed", report.Failed)
	return report, nil
}

// check compares a step outcome with its expectation.
func (r *Runner) check(step *Step, err error) (bool, string) {
	expect := step.Expect
	if expect == nil {
		if err != nil {
			return false, err.Error()
		}
		return true, ""
	}
	if expect.Error != "" {
		if err == nil {
			return false, "expected a " + expect.Error + " error"
		}
		if !errors.IsCategory(err, errors.ErrorCategory(expect.Error)) {
			return false, fmt.Sprintf("expected a %s error, got %v", expect.Error, err)
		}
	} else if err != nil {
		return false, err.Error()
	}
	if expect.Device != "" {
		name := expect.Stream
		if name == "" {
			name = step.Stream
		}
		stream, ok := audio.ParseStream(name)
		if !ok {
			return false, "unknown stream " + name
		}
		if got := r.manager.DevicesForStream(stream).String(); got != expect.Device {
			return false, fmt.Sprintf("%s plays on %s, expected %s", stream, got, expect.Device)
		}
	}
	return true, ""
}

func parseDevice(name string) (audio.DeviceType, error) {
	device, ok := audio.ParseDeviceType(name)
	if !ok {
		return audio.DeviceNone, invalid("unknown device %q", name)
	}
	return device, nil
}

func (r *Runner) nextSession() audio.Session {
	r.session++
	return r.session
}

func stepUID(step *Step) audio.UID {
	if step.UID != 0 {
		return audio.UID(step.UID)
	}
	return defaultUID
}

func (r *Runner) apply(step *Step) (string, error) {
	m := r.manager
	switch step.Action {
	case ActionConnect, ActionDisconnect:
		device, err := parseDevice(step.Device)
		if err != nil {
			return "", err
		}
		state := audio.DeviceStateAvailable
		if step.Action == ActionDisconnect {
			state = audio.DeviceStateUnavailable
		}
		return device.String() + " " + state.String(),
			m.SetDeviceConnectionState(device, state, step.Address, step.Name)

	case ActionPhoneState:
		mode, ok := audio.ParseMode(step.Mode)
		if !ok {
			return "", invalid("unknown phone state %q", step.Mode)
		}
		return mode.String(), m.SetPhoneState(mode)

	case ActionForceUse:
		usage, ok := audio.ParseForceUse(step.Usage)
		if !ok {
			return "", invalid("unknown force use %q", step.Usage)
		}
		config, ok := audio.ParseForcedConfig(step.Config)
		if !ok {
			return "", invalid("unknown forced config %q", step.Config)
		}
		return usage.String() + "=" + config.String(), m.SetForceUse(usage, config)

	case ActionPlay:
		return r.play(step)

	case ActionStop, ActionRelease:
		c := r.clients[step.Client]
		if step.Action == ActionStop {
			return step.Client, m.StopOutput(c.port)
		}
		delete(r.clients, step.Client)
		return step.Client, m.ReleaseOutput(c.port)

	case ActionRecord:
		return r.record(step)

	case ActionStopRecord:
		c := r.clients[step.Client]
		if err := m.StopInput(c.port); err != nil {
			return step.Client, err
		}
		delete(r.clients, step.Client)
		return step.Client, m.ReleaseInput(c.port)

	case ActionVolume:
		stream, ok := audio.ParseStream(step.Stream)
		if !ok {
			return "", invalid("unknown stream %q", step.Stream)
		}
		device, err := parseDevice(step.Device)
		if err != nil {
			return "", err
		}
		detail := fmt.Sprintf("%s=%d on %s", stream, step.Index, device)
		return detail, m.SetStreamVolumeIndex(stream, step.Index, device)

	case ActionMasterMono:
		return fmt.Sprintf("mono=%t", step.Enabled), m.SetMasterMono(step.Enabled)

	case ActionReleaseUID:
		uid := stepUID(step)
		m.ReleaseResourcesForUID(uid)
		return fmt.Sprintf("uid %d", uid), nil

	case ActionExpectRoute:
		return step.Stream, nil
	}
	return "", invalid("unknown action %q", step.Action)
}

func (r *Runner) play(step *Step) (string, error) {
	var attr audio.Attributes
	switch {
	case step.Usage != "":
		usage, ok := audio.ParseUsage(step.Usage)
		if !ok {
			return "", invalid("unknown usage %q", step.Usage)
		}
		attr.Usage = usage
	case step.Stream != "":
		stream, ok := audio.ParseStream(step.Stream)
		if !ok {
			return "", invalid("unknown stream %q", step.Stream)
		}
		attr = audio.UsageForStream(stream)
	default:
		attr.Usage = audio.UsageMedia
	}

	a, err := r.manager.GetOutputForAttr(policy.OutputRequest{
		Attributes: &attr,
		Session:    r.nextSession(),
		UID:        stepUID(step),
	})
	if err != nil {
		return "", err
	}
	r.clients[step.Client] = client{port: a.PortID}
	detail := fmt.Sprintf("%s on output %d", a.Stream, a.Output)
	return detail, r.manager.StartOutput(a.PortID)
}

func (r *Runner) record(step *Step) (string, error) {
	source := audio.SourceMic
	if step.Source != "" {
		var ok bool
		if source, ok = audio.ParseSource(step.Source); !ok {
			return "", invalid("unknown source %q", step.Source)
		}
	}
	cfg := audio.Config{SampleRate: 48000, ChannelMask: audio.ChannelInStereo, Format: audio.FormatPCM16Bit}
	if source == audio.SourceHotword {
		cfg = audio.Config{SampleRate: 16000, ChannelMask: audio.ChannelInMono, Format: audio.FormatPCM16Bit}
	}

	a, err := r.manager.GetInputForAttr(policy.InputRequest{
		Attributes: audio.Attributes{Source: source},
		Session:    r.nextSession(),
		UID:        stepUID(step),
		Config:     cfg,
	})
	if err != nil {
		return "", err
	}
	r.clients[step.Client] = client{port: a.PortID}
	concurrency, err := r.manager.StartInput(a.PortID, false)
	return fmt.Sprintf("%s on input %d (%s)", source, a.Input, concurrency), err
}
