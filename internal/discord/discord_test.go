package discord_test

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/arbiter/internal/appeal/notify"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	arbiterdiscord "github.com/robalyx/arbiter/internal/discord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	method  string
	guild   snowflake.ID
	user    snowflake.ID
	role    snowflake.ID
	channel snowflake.ID
	message discord.MessageCreate
}

type fakeAPI struct {
	mu       sync.Mutex
	calls    []call
	err      error
	failures []error // returned in order before err
}

func (f *fakeAPI) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return f.err
}

func (f *fakeAPI) DeleteBan(guildID, userID snowflake.ID, _ ...rest.RequestOpt) error {
	return f.record(call{method: "DeleteBan", guild: guildID, user: userID})
}

func (f *fakeAPI) UpdateMember(
	guildID, userID snowflake.ID, _ discord.MemberUpdate, _ ...rest.RequestOpt,
) (*discord.Member, error) {
	return nil, f.record(call{method: "UpdateMember", guild: guildID, user: userID})
}

func (f *fakeAPI) AddMemberRole(guildID, userID, roleID snowflake.ID, _ ...rest.RequestOpt) error {
	return f.record(call{method: "AddMemberRole", guild: guildID, user: userID, role: roleID})
}

func (f *fakeAPI) CreateDMChannel(userID snowflake.ID, _ ...rest.RequestOpt) (*discord.DMChannel, error) {
	if err := f.record(call{method: "CreateDMChannel", user: userID}); err != nil {
		return nil, err
	}

	var channel discord.DMChannel
	if err := json.Unmarshal([]byte(`{"id":"900","type":1}`), &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (f *fakeAPI) CreateMessage(
	channelID snowflake.ID, messageCreate discord.MessageCreate, _ ...rest.RequestOpt,
) (*discord.Message, error) {
	return &discord.Message{}, f.record(call{method: "CreateMessage", channel: channelID, message: messageCreate})
}

func (f *fakeAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func (f *fakeAPI) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestReverse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		action  types.ModerationAction
		methods []string
		wantErr error
	}{
		{
			name:    "ban is lifted",
			action:  types.ModerationAction{ID: 1, GuildID: 10, TargetID: 20, Type: enum.ActionTypeBan},
			methods: []string{"DeleteBan"},
		},
		{
			name:    "timeout is cleared",
			action:  types.ModerationAction{ID: 2, GuildID: 10, TargetID: 20, Type: enum.ActionTypeTimeout},
			methods: []string{"UpdateMember"},
		},
		{
			name: "role is restored",
			action: types.ModerationAction{
				ID: 3, GuildID: 10, TargetID: 20, Type: enum.ActionTypeRoleRemove, RoleID: 30,
			},
			methods: []string{"AddMemberRole"},
		},
		{
			name:    "warning needs no call",
			action:  types.ModerationAction{ID: 4, GuildID: 10, TargetID: 20, Type: enum.ActionTypeWarn},
			methods: []string{},
		},
		{
			name:    "role removal without role",
			action:  types.ModerationAction{ID: 5, GuildID: 10, TargetID: 20, Type: enum.ActionTypeRoleRemove},
			methods: []string{},
			wantErr: arbiterdiscord.ErrMissingRole,
		},
		{
			name:    "kick cannot be undone",
			action:  types.ModerationAction{ID: 6, GuildID: 10, TargetID: 20, Type: enum.ActionTypeKick},
			methods: []string{},
			wantErr: arbiterdiscord.ErrNotReversible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &fakeAPI{}
			client := arbiterdiscord.NewClient(api, 0, zap.NewNop())

			err := client.Reverse(t.Context(), &tt.action)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.methods, api.methods())
		})
	}
}

func TestReverseRoleTargetsRecordedRole(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	client := arbiterdiscord.NewClient(api, 0, zap.NewNop())

	err := client.Reverse(t.Context(), &types.ModerationAction{
		ID: 1, GuildID: 10, TargetID: 20, Type: enum.ActionTypeRoleRemove, RoleID: 30,
	})
	require.NoError(t, err)

	got := api.last()
	assert.Equal(t, snowflake.ID(10), got.guild)
	assert.Equal(t, snowflake.ID(20), got.user)
	assert.Equal(t, snowflake.ID(30), got.role)
}

func TestReverseWrapsAPIErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("missing permissions")
	api := &fakeAPI{err: boom}
	client := arbiterdiscord.NewClient(api, 0, zap.NewNop())

	err := client.Reverse(t.Context(), &types.ModerationAction{ID: 1, GuildID: 10, TargetID: 20, Type: enum.ActionTypeBan})
	require.ErrorIs(t, err, boom)
}

func TestReverseRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	unavailable := &rest.Error{
		Response: &http.Response{StatusCode: http.StatusServiceUnavailable, Status: "503 Service Unavailable"},
		Message:  "upstream unavailable",
	}
	api := &fakeAPI{failures: []error{unavailable}}
	client := arbiterdiscord.NewClient(api, 0, zap.NewNop())

	err := client.Reverse(t.Context(), &types.ModerationAction{ID: 1, GuildID: 10, TargetID: 20, Type: enum.ActionTypeBan})
	require.NoError(t, err)
	assert.Equal(t, []string{"DeleteBan", "DeleteBan"}, api.methods())
}

func TestReverseDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	forbidden := &rest.Error{
		Response: &http.Response{StatusCode: http.StatusForbidden, Status: "403 Forbidden"},
		Message:  "Missing Permissions",
	}
	api := &fakeAPI{err: forbidden}
	client := arbiterdiscord.NewClient(api, 0, zap.NewNop())

	err := client.Reverse(t.Context(), &types.ModerationAction{ID: 1, GuildID: 10, TargetID: 20, Type: enum.ActionTypeBan})
	require.Error(t, err)
	assert.Equal(t, []string{"DeleteBan"}, api.methods())
}

func TestEscalate(t *testing.T) {
	t.Parallel()

	action := &types.ModerationAction{
		ID: 7, GuildID: 10, TargetID: 20, Type: enum.ActionTypeBan,
		AppliedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("posts to mod log", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		client := arbiterdiscord.NewClient(api, 500, zap.NewNop())

		require.NoError(t, client.Escalate(t.Context(), action, "appeal rejected"))

		got := api.last()
		assert.Equal(t, "CreateMessage", got.method)
		assert.Equal(t, snowflake.ID(500), got.channel)
		require.Len(t, got.message.Embeds, 1)
		assert.Equal(t, "appeal rejected", got.message.Embeds[0].Description)
	})

	t.Run("long reason is truncated", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		client := arbiterdiscord.NewClient(api, 500, zap.NewNop())

		require.NoError(t, client.Escalate(t.Context(), action, strings.Repeat("x", 5000)))

		got := api.last()
		require.Len(t, got.message.Embeds, 1)
		assert.Len(t, got.message.Embeds[0].Description, arbiterdiscord.MaxEmbedDescription)
	})

	t.Run("no channel configured", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		client := arbiterdiscord.NewClient(api, 0, zap.NewNop())

		require.NoError(t, client.Escalate(t.Context(), action, "appeal rejected"))
		assert.Empty(t, api.methods())
	})
}

func TestTransportSend(t *testing.T) {
	t.Parallel()

	t.Run("direct message", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		transport := arbiterdiscord.NewTransport(api, zap.NewNop())

		err := transport.Send(t.Context(), notify.Recipient{Kind: notify.RecipientUser, ID: 20, GuildID: 10}, "hello")
		require.NoError(t, err)
		assert.Equal(t, []string{"CreateDMChannel", "CreateMessage"}, api.methods())

		got := api.last()
		assert.Equal(t, snowflake.ID(900), got.channel)
		require.Len(t, got.message.Embeds, 1)
		assert.Equal(t, "hello", got.message.Embeds[0].Description)
	})

	t.Run("channel post", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		transport := arbiterdiscord.NewTransport(api, zap.NewNop())

		err := transport.Send(t.Context(), notify.Recipient{Kind: notify.RecipientChannel, ID: 600}, "queued")
		require.NoError(t, err)
		assert.Equal(t, []string{"CreateMessage"}, api.methods())
		assert.Equal(t, snowflake.ID(600), api.last().channel)
	})

	t.Run("dm failure", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{err: errors.New("cannot send messages to this user")}
		transport := arbiterdiscord.NewTransport(api, zap.NewNop())

		err := transport.Send(t.Context(), notify.Recipient{Kind: notify.RecipientUser, ID: 20}, "hello")
		require.Error(t, err)
	})
}
