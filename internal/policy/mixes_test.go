package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/endpoint"
	"github.com/tphakala/audiopolicy/internal/mix"
)

func loopbackPlayers(address string) *mix.Mix {
	return &mix.Mix{
		Type:          mix.TypePlayers,
		RouteFlags:    mix.RouteLoopBack,
		Criteria:      []mix.Criterion{{Rule: mix.RuleMatchUsage, Usage: audio.UsageMedia}},
		DeviceAddress: address,
	}
}

func renderMix(device audio.DeviceType, address string) *mix.Mix {
	return &mix.Mix{
		Type:          mix.TypePlayers,
		RouteFlags:    mix.RouteRender,
		Criteria:      []mix.Criterion{{Rule: mix.RuleMatchUsage, Usage: audio.UsageGame}},
		DeviceType:    device,
		DeviceAddress: address,
	}
}

func TestLoopbackMixConnectsRemoteSubmix(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	m := env.m
	pm := loopbackPlayers("cast")

	require.NoError(t, m.RegisterPolicyMixes([]*mix.Mix{pm}))
	assert.Equal(t, audio.DeviceInRemoteSubmix, pm.DeviceType)
	assert.Equal(t, audio.DeviceStateAvailable, m.GetDeviceConnectionState(audio.DeviceInRemoteSubmix, "cast"))
	require.Len(t, m.PolicyMixes(), 1)
	assert.Equal(t, 1, env.recorder.ops["register_policy_mixes"])

	require.NoError(t, m.UnregisterPolicyMixes([]*mix.Mix{pm}))
	assert.Equal(t, audio.DeviceStateUnavailable, m.GetDeviceConnectionState(audio.DeviceInRemoteSubmix, "cast"))
	assert.Empty(t, m.PolicyMixes())

	require.ErrorIs(t, m.UnregisterPolicyMixes([]*mix.Mix{pm}), mix.ErrMixNotFound)
}

func TestLoopbackRecordersUseOutputSubmix(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	pm := &mix.Mix{
		Type:          mix.TypeRecorders,
		RouteFlags:    mix.RouteLoopBack,
		Criteria:      []mix.Criterion{{Rule: mix.RuleMatchSource, Source: audio.SourceMic}},
		DeviceAddress: "inject",
	}

	require.NoError(t, m.RegisterPolicyMixes([]*mix.Mix{pm}))
	assert.Equal(t, audio.DeviceOutRemoteSubmix, pm.DeviceType)
	assert.Equal(t, audio.DeviceStateAvailable, m.GetDeviceConnectionState(audio.DeviceOutRemoteSubmix, "inject"))

	out, ok := m.outputs.Find(func(o *endpoint.Output) bool { return o.PolicyMix == pm })
	require.True(t, ok, "the submix output serves the mix")
	assert.Equal(t, out.Handle(), pm.Output)
}

func TestRenderMixBindsToPatchedOutput(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	pm := renderMix(audio.DeviceOutSpeaker, "")

	require.NoError(t, m.RegisterPolicyMixes([]*mix.Mix{pm}))
	assert.Equal(t, m.primary.Handle(), pm.Output)

	err := m.RegisterPolicyMixes([]*mix.Mix{renderMix(audio.DeviceOutWiredHeadset, "jack")})
	require.ErrorIs(t, err, ErrNoOutput, "nothing is routed to the headset")
	assert.Len(t, m.PolicyMixes(), 1)
}

func TestRegisterPolicyMixesValidation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	both := loopbackPlayers("both")
	both.RouteFlags |= mix.RouteRender
	require.ErrorIs(t, m.RegisterPolicyMixes([]*mix.Mix{both}), ErrInvalidOperation)

	none := loopbackPlayers("none")
	none.RouteFlags = 0
	require.ErrorIs(t, m.RegisterPolicyMixes([]*mix.Mix{none}), ErrInvalidArgument)

	require.NoError(t, m.RegisterPolicyMixes([]*mix.Mix{loopbackPlayers("cast")}))
	err := m.RegisterPolicyMixes([]*mix.Mix{loopbackPlayers("cast")})
	require.ErrorIs(t, err, mix.ErrMixAlreadyRegistered)
	assert.Len(t, m.PolicyMixes(), 1)
}

func TestRegisterPolicyMixesRollsBack(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	err := m.RegisterPolicyMixes([]*mix.Mix{
		loopbackPlayers("cast"),
		renderMix(audio.DeviceOutWiredHeadset, ""),
	})
	require.ErrorIs(t, err, ErrNoOutput)
	assert.Empty(t, m.PolicyMixes())
	assert.Equal(t, audio.DeviceStateUnavailable, m.GetDeviceConnectionState(audio.DeviceInRemoteSubmix, "cast"))
}
