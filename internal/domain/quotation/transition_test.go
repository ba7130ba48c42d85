package quotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{
	StatusDraft, StatusSent, StatusViewed, StatusAccepted,
	StatusRejected, StatusExpired, StatusConverted,
}

var allActions = []Action{
	ActionSend, ActionView, ActionAccept, ActionReject,
	ActionExpire, ActionConvert, ActionEdit, ActionDelete,
}

// legal is the expected transition table, stated independently of the
// implementation so a table typo cannot hide.
var legal = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSend:   StatusSent,
		ActionEdit:   StatusDraft,
		ActionDelete: StatusDraft,
		ActionExpire: StatusExpired,
	},
	StatusSent: {
		ActionView:   StatusViewed,
		ActionAccept: StatusAccepted,
		ActionReject: StatusRejected,
		ActionExpire: StatusExpired,
	},
	StatusViewed: {
		ActionView:   StatusViewed,
		ActionAccept: StatusAccepted,
		ActionReject: StatusRejected,
		ActionExpire: StatusExpired,
	},
	StatusAccepted: {
		ActionConvert: StatusConverted,
		ActionExpire:  StatusExpired,
	},
}

func TestNext_Completeness(t *testing.T) {
	for _, from := range allStatuses {
		for _, action := range allActions {
			want, ok := legal[from][action]
			got, err := Next(from, action)

			if ok {
				require.NoError(t, err, "(%s, %s) must be legal", from, action)
				assert.Equal(t, want, got, "(%s, %s)", from, action)
				continue
			}

			var itErr *InvalidTransitionError
			require.ErrorAs(t, err, &itErr, "(%s, %s) must be rejected", from, action)
			assert.Equal(t, from, itErr.From)
			assert.Equal(t, action, itErr.Action)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusConverted.Terminal())
	assert.False(t, StatusDraft.Terminal())
	assert.False(t, StatusSent.Terminal())
	assert.False(t, StatusViewed.Terminal())
	assert.False(t, StatusAccepted.Terminal())
}

func TestTerminalStatuses_HaveNoTransitions(t *testing.T) {
	for _, s := range allStatuses {
		if !s.Terminal() {
			continue
		}
		assert.Empty(t, transitions[s], "terminal status %s must have no outgoing transitions", s)
	}
}
