package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"line-relay/internal/domain"
	"line-relay/internal/session"
)

type sentReply struct {
	token string
	text  string
}

type fakeReplier struct {
	sent []sentReply
	err  error
}

func (f *fakeReplier) Reply(_ context.Context, token, text string) error {
	f.sent = append(f.sent, sentReply{token: token, text: text})
	return f.err
}

func newTestRelay(t *testing.T, llm LLMClient, store HistoryStore, replier Replier) *RelayService {
	t.Helper()
	gate, err := session.NewGate(session.DefaultMarker, session.DefaultGreeting)
	require.NoError(t, err)
	relay, err := NewRelayService(gate, newTestReplyService(t, llm, store), replier)
	require.NoError(t, err)
	return relay
}

func groupMessage(text string) domain.InboundMessage {
	return domain.InboundMessage{
		Source:     domain.Source{Kind: domain.SourceGroup, GroupID: "G1", UserID: "U9"},
		Text:       text,
		ReplyToken: "rt-group",
	}
}

func TestNewRelayService_ValidatesDependencies(t *testing.T) {
	gate, err := session.NewGate("@danny", "hi")
	require.NoError(t, err)
	replies := newTestReplyService(t, replying("x"), newFakeStore())

	_, err = NewRelayService(nil, replies, &fakeReplier{})
	require.Error(t, err)
	_, err = NewRelayService(gate, nil, &fakeReplier{})
	require.Error(t, err)
	_, err = NewRelayService(gate, replies, nil)
	require.Error(t, err)
}

func TestHandleMessage_IndividualRoundTrip(t *testing.T) {
	store := newFakeStore()
	replier := &fakeReplier{}
	relay := newTestRelay(t, replying("hello"), store, replier)

	res, err := relay.HandleMessage(context.Background(), domain.InboundMessage{
		Source:     domain.Source{Kind: domain.SourceUser, UserID: "U1"},
		Text:       " hi ",
		ReplyToken: "rt-1",
	})
	require.NoError(t, err)
	require.Equal(t, "U1", res.SessionKey)
	require.False(t, res.Suppressed)
	require.Equal(t, []sentReply{{token: "rt-1", text: "hello"}}, replier.sent)

	h, _ := store.history("U1")
	require.Equal(t, domain.History{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}, h)
}

func TestHandleMessage_GroupWithoutMarkerIsSuppressed(t *testing.T) {
	store := newFakeStore()
	store.data["G1"] = pairs(1)
	llm := replying("unused")
	replier := &fakeReplier{}
	relay := newTestRelay(t, llm, store, replier)

	res, err := relay.HandleMessage(context.Background(), groupMessage("just chatting"))
	require.NoError(t, err)
	require.True(t, res.Suppressed)
	require.Empty(t, replier.sent)
	require.Zero(t, llm.callCount)
	require.Zero(t, store.puts)

	h, _ := store.history("G1")
	require.Equal(t, pairs(1), h)
}

func TestHandleMessage_GroupMarkerIsStripped(t *testing.T) {
	store := newFakeStore()
	llm := replying("not much")
	replier := &fakeReplier{}
	relay := newTestRelay(t, llm, store, replier)

	res, err := relay.HandleMessage(context.Background(), groupMessage("@danny what's up"))
	require.NoError(t, err)
	require.Equal(t, "G1", res.SessionKey)
	require.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "what's up"}, llm.captured[len(llm.captured)-1])
	require.Equal(t, []sentReply{{token: "rt-group", text: "not much"}}, replier.sent)
}

func TestHandleMessage_GroupMarkerAloneSendsGreeting(t *testing.T) {
	llm := replying("hey!")
	relay := newTestRelay(t, llm, newFakeStore(), &fakeReplier{})

	_, err := relay.HandleMessage(context.Background(), groupMessage("@Danny"))
	require.NoError(t, err)
	require.Equal(t, "嗨～", llm.captured[len(llm.captured)-1].Content)
}

func TestHandleMessage_ClearInsideGroup(t *testing.T) {
	store := newFakeStore()
	store.data["G1"] = pairs(2)
	replier := &fakeReplier{}
	relay := newTestRelay(t, replying("unused"), store, replier)

	res, err := relay.HandleMessage(context.Background(), groupMessage("@danny !清空"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCleared, res.Reply.Outcome)
	require.Equal(t, ClearedText, replier.sent[0].text)
	_, ok := store.history("G1")
	require.False(t, ok)
}

func TestHandleMessage_UnknownSourceUsesSentinel(t *testing.T) {
	store := newFakeStore()
	relay := newTestRelay(t, replying("ok"), store, &fakeReplier{})

	res, err := relay.HandleMessage(context.Background(), domain.InboundMessage{
		Source: domain.Source{Kind: "external"},
		Text:   "hi",
	})
	require.NoError(t, err)
	require.Equal(t, session.UnknownKey, res.SessionKey)
	_, ok := store.history(session.UnknownKey)
	require.True(t, ok)
}

func TestHandleMessage_FallbackIsDispatched(t *testing.T) {
	replier := &fakeReplier{}
	relay := newTestRelay(t, &mockLLM{err: errors.New("quota exceeded")}, newFakeStore(), replier)

	res, err := relay.HandleMessage(context.Background(), domain.InboundMessage{
		Source:     domain.Source{Kind: domain.SourceUser, UserID: "U1"},
		Text:       "hi",
		ReplyToken: "rt-1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeFallback, res.Reply.Outcome)
	require.Equal(t, []sentReply{{token: "rt-1", text: FallbackText}}, replier.sent)
}

func TestHandleMessage_DispatchFailureIsReported(t *testing.T) {
	replier := &fakeReplier{err: errors.New("invalid reply token")}
	relay := newTestRelay(t, replying("hello"), newFakeStore(), replier)

	_, err := relay.HandleMessage(context.Background(), domain.InboundMessage{
		Source: domain.Source{Kind: domain.SourceUser, UserID: "U1"},
		Text:   "hi",
	})
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, ErrorUpstream, usecaseErr.Code)
	require.Equal(t, "reply_dispatch_error", usecaseErr.Reason)
	require.Len(t, replier.sent, 1)
}
