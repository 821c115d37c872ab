package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectdesk/crm-backend/internal/realtime"
)

// fakeRepo is an in-memory Repository for pipeline tests
type fakeRepo struct {
	mu sync.Mutex

	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID]*Message
	comments      []*InternalComment

	customerNames map[uuid.UUID]string
	userNames     map[int64]string
	usernames     map[string]int64
	managers      []int64

	lastContact map[uuid.UUID]time.Time

	failCreateMessage bool
	failLastContact   bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID]*Message),
		customerNames: make(map[uuid.UUID]string),
		userNames:     make(map[int64]string),
		usernames:     make(map[string]int64),
		lastContact:   make(map[uuid.UUID]time.Time),
	}
}

func (r *fakeRepo) addConversation(conv *Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conv.ID] = conv
}

func (r *fakeRepo) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	copied := *conv
	return &copied, nil
}

func (r *fakeRepo) IncrementMessageCount(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[id].MessageCount++
	return nil
}

func (r *fakeRepo) IncrementCommentCount(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[id].CommentCount++
	return nil
}

func (r *fakeRepo) TouchLastMessageAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv := r.conversations[id]
	if conv.LastMessageAt == nil || conv.LastMessageAt.Before(at) {
		conv.LastMessageAt = &at
	}
	return nil
}

func (r *fakeRepo) CreateMessage(ctx context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failCreateMessage {
		return errors.New("insert failed")
	}
	copied := *m
	r.messages[m.ID] = &copied
	return nil
}

func (r *fakeRepo) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *fakeRepo) SetMessageStatus(ctx context.Context, id uuid.UUID, status MessageStatus, sentAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Status = status
	if sentAt != nil {
		m.SentAt = sentAt
	}
	return nil
}

func (r *fakeRepo) MarkMessageRead(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return false, ErrMessageNotFound
	}
	if m.ReadByUser || m.Status == StatusFailed {
		return false, nil
	}
	m.ReadByUser = true
	m.ReadAt = &at
	m.Status = StatusRead
	return true, nil
}

func (r *fakeRepo) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateComment(ctx context.Context, c *InternalComment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *c
	r.comments = append(r.comments, &copied)
	return nil
}

func (r *fakeRepo) ListComments(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*InternalComment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*InternalComment(nil), r.comments...), nil
}

func (r *fakeRepo) UpdateLastContact(ctx context.Context, customerID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failLastContact {
		return errors.New("customers table unavailable")
	}
	r.lastContact[customerID] = at
	return nil
}

func (r *fakeRepo) CustomerName(ctx context.Context, customerID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.customerNames[customerID]
	if !ok {
		return "", errors.New("customer not found")
	}
	return name, nil
}

func (r *fakeRepo) UserName(ctx context.Context, userID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.userNames[userID]
	if !ok {
		return "", errors.New("user not found")
	}
	return name, nil
}

func (r *fakeRepo) LookupUsername(ctx context.Context, username string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.usernames[username]
	return id, ok, nil
}

func (r *fakeRepo) ManagerIDs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.managers...), nil
}

// fakeNotifier records fan-out calls by recipient
type fakeNotifier struct {
	mu              sync.Mutex
	messageAlerts   []int64
	commentAlerts   []int64
	mentionAlerts   []int64
	lastMessageName string
}

func (n *fakeNotifier) MessageReceived(ctx context.Context, msg *Message, customerName string, recipient int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messageAlerts = append(n.messageAlerts, recipient)
	n.lastMessageName = customerName
}

func (n *fakeNotifier) CommentAdded(ctx context.Context, c *InternalComment, authorName, customerName string, recipient int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.commentAlerts = append(n.commentAlerts, recipient)
}

func (n *fakeNotifier) Mentioned(ctx context.Context, c *InternalComment, authorName, customerName string, recipient int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mentionAlerts = append(n.mentionAlerts, recipient)
}

type pipelineFixture struct {
	repo        *fakeRepo
	broadcaster *recordingBroadcaster
	notifier    *fakeNotifier
	pipeline    *Pipeline
	conv        *Conversation
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	repo := newFakeRepo()
	broadcaster := &recordingBroadcaster{}
	notifier := &fakeNotifier{}

	assigned := int64(7)
	conv := &Conversation{
		ID:             uuid.New(),
		CustomerID:     uuid.New(),
		Status:         ConversationActive,
		AssignedUserID: &assigned,
	}
	repo.addConversation(conv)
	repo.customerNames[conv.CustomerID] = "Jane Doe"
	repo.userNames[7] = "Ada"

	pipeline := NewPipeline(repo, NewMockStorage(), broadcaster, notifier, NewMentionExtractor(repo))

	return &pipelineFixture{
		repo:        repo,
		broadcaster: broadcaster,
		notifier:    notifier,
		pipeline:    pipeline,
		conv:        conv,
	}
}

func TestPipeline_SubmitCustomerMessage(t *testing.T) {
	f := newPipelineFixture(t)

	msg, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "  hello there  ",
	})
	require.NoError(t, err)

	// Stored, trimmed, and promoted to sent
	assert.Equal(t, StatusSent, msg.Status)
	assert.Equal(t, "hello there", msg.Content)
	assert.Equal(t, TypeText, msg.MessageType)
	require.NotNil(t, msg.SentAt)

	stored, err := f.repo.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)

	// Counters and recency moved
	conv, _ := f.repo.GetConversation(context.Background(), f.conv.ID)
	assert.Equal(t, 1, conv.MessageCount)
	require.NotNil(t, conv.LastMessageAt)
	assert.Equal(t, msg.CreatedAt, f.repo.lastContact[f.conv.CustomerID])

	// The room heard about it
	require.Equal(t, 1, f.broadcaster.count())
	assert.Equal(t, realtime.RoomKey(f.conv.ID), f.broadcaster.groups[0])
	assert.Equal(t, "chat_message", f.broadcaster.events[0].Type)

	// The assigned user was notified with the customer's name
	assert.Equal(t, []int64{7}, f.notifier.messageAlerts)
	assert.Equal(t, "Jane Doe", f.notifier.lastMessageName)
}

func TestPipeline_SubmitInternalMessageDoesNotNotify(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         UserSender(7),
		Content:        "agent reply",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.broadcaster.count())
	assert.Empty(t, f.notifier.messageAlerts)
	assert.Empty(t, f.repo.lastContact)
}

func TestPipeline_SubmitCustomerMessageNoAssignee(t *testing.T) {
	f := newPipelineFixture(t)
	f.conv.AssignedUserID = nil
	f.repo.addConversation(f.conv)

	_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "anyone there?",
	})
	require.NoError(t, err)

	// Broadcast still happens, nobody to notify
	assert.Equal(t, 1, f.broadcaster.count())
	assert.Empty(t, f.notifier.messageAlerts)
}

func TestPipeline_SubmitToInactiveConversation(t *testing.T) {
	f := newPipelineFixture(t)
	f.conv.Status = ConversationClosed
	f.repo.addConversation(f.conv)

	_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "hello?",
	})
	assert.ErrorIs(t, err, ErrConversationClosed)
	assert.Equal(t, 0, f.broadcaster.count())
}

func TestPipeline_SubmitUnknownConversation(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: uuid.New(),
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "hello?",
	})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestPipeline_SubmitValidation(t *testing.T) {
	f := newPipelineFixture(t)
	lat := 52.52

	cases := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{
			name: "empty text",
			req:  SubmitRequest{Content: "   "},
			want: ErrEmptyMessage,
		},
		{
			name: "location without coordinates",
			req:  SubmitRequest{MessageType: TypeLocation, Latitude: &lat},
			want: ErrMissingCoordinates,
		},
		{
			name: "contact without phone",
			req:  SubmitRequest{MessageType: TypeContact, ContactName: "Jane"},
			want: ErrMissingContact,
		},
		{
			name: "image without media url",
			req:  SubmitRequest{MessageType: TypeImage},
			want: ErrMissingMedia,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			req.ConversationID = f.conv.ID
			req.Sender = CustomerSender(f.conv.CustomerID)

			_, err := f.pipeline.Submit(context.Background(), &req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Nothing observable leaked from the failed submissions
	assert.Equal(t, 0, f.broadcaster.count())
	conv, _ := f.repo.GetConversation(context.Background(), f.conv.ID)
	assert.Equal(t, 0, conv.MessageCount)
}

func TestPipeline_SubmitInvalidSender(t *testing.T) {
	f := newPipelineFixture(t)
	userID := int64(7)

	_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         SenderRef{Kind: SenderCustomer, UserID: &userID},
		Content:        "hello",
	})
	assert.Error(t, err)
}

func TestPipeline_PersistFailureStopsEverything(t *testing.T) {
	f := newPipelineFixture(t)
	f.repo.failCreateMessage = true

	_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "hello",
	})
	require.Error(t, err)

	// No broadcast, no counters, no notification
	assert.Equal(t, 0, f.broadcaster.count())
	assert.Empty(t, f.notifier.messageAlerts)
	conv, _ := f.repo.GetConversation(context.Background(), f.conv.ID)
	assert.Equal(t, 0, conv.MessageCount)
	assert.Nil(t, conv.LastMessageAt)
}

func TestPipeline_LastContactFailureDoesNotFailSubmit(t *testing.T) {
	f := newPipelineFixture(t)
	f.repo.failLastContact = true

	msg, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, msg.Status)
	assert.Equal(t, 1, f.broadcaster.count())
}

func TestPipeline_ReplyToRoundTrip(t *testing.T) {
	f := newPipelineFixture(t)

	first, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "original",
	})
	require.NoError(t, err)

	reply, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         UserSender(7),
		Content:        "answer",
		ReplyTo:        &first.ID,
	})
	require.NoError(t, err)

	stored, err := f.repo.GetMessage(context.Background(), reply.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReplyTo)
	assert.Equal(t, first.ID, *stored.ReplyTo)
}

func TestPipeline_ConcurrentSubmitsAllCount(t *testing.T) {
	f := newPipelineFixture(t)

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
				ConversationID: f.conv.ID,
				Sender:         CustomerSender(f.conv.CustomerID),
				Content:        "concurrent hello",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, _ := f.repo.GetConversation(context.Background(), f.conv.ID)
	assert.Equal(t, workers, conv.MessageCount)
	assert.Equal(t, workers, f.broadcaster.count())
}

func TestPipeline_LockTableDrainsAfterSubmits(t *testing.T) {
	f := newPipelineFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
				ConversationID: f.conv.ID,
				Sender:         CustomerSender(f.conv.CustomerID),
				Content:        "hold the lock",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Once every writer releases, the lock table holds nothing
	f.pipeline.locksMux.Lock()
	defer f.pipeline.locksMux.Unlock()
	assert.Empty(t, f.pipeline.locks)
}

func TestPipeline_MarkReadIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)

	msg, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "read me",
	})
	require.NoError(t, err)
	broadcastsBefore := f.broadcaster.count()

	first, err := f.pipeline.MarkRead(context.Background(), msg.ID, 7)
	require.NoError(t, err)
	assert.True(t, first.ReadByUser)
	require.NotNil(t, first.ReadAt)
	assert.Equal(t, StatusRead, first.Status)
	assert.Equal(t, broadcastsBefore+1, f.broadcaster.count())

	// Second acknowledgement reports the stored state and stays silent
	second, err := f.pipeline.MarkRead(context.Background(), msg.ID, 7)
	require.NoError(t, err)
	assert.True(t, second.ReadByUser)
	require.NotNil(t, second.ReadAt)
	assert.Equal(t, first.ReadAt.Unix(), second.ReadAt.Unix())
	assert.Equal(t, broadcastsBefore+1, f.broadcaster.count())
}

func TestPipeline_MarkReadUnknownMessage(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.MarkRead(context.Background(), uuid.New(), 7)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestPipeline_StatusOnlyMovesForward(t *testing.T) {
	f := newPipelineFixture(t)

	msg, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "status walk",
	})
	require.NoError(t, err)

	require.NoError(t, f.pipeline.MarkDelivered(context.Background(), msg.ID))

	stored, _ := f.repo.GetMessage(context.Background(), msg.ID)
	assert.Equal(t, StatusDelivered, stored.Status)

	// delivered -> read via MarkRead, then nothing may regress
	_, err = f.pipeline.MarkRead(context.Background(), msg.ID, 7)
	require.NoError(t, err)

	err = f.pipeline.MarkDelivered(context.Background(), msg.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusChange)
}

func TestCanTransition_FailedIsTerminal(t *testing.T) {
	assert.True(t, CanTransition(StatusSent, StatusFailed))
	assert.True(t, CanTransition(StatusDelivered, StatusFailed))

	// read is the end of the happy path and never flips to failed
	assert.False(t, CanTransition(StatusRead, StatusFailed))

	// nothing leaves failed
	assert.False(t, CanTransition(StatusFailed, StatusSent))
	assert.False(t, CanTransition(StatusFailed, StatusDelivered))
	assert.False(t, CanTransition(StatusFailed, StatusRead))
}

func TestPipeline_FailedMessageNeverGainsReadReceipt(t *testing.T) {
	f := newPipelineFixture(t)

	msg, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "undeliverable",
	})
	require.NoError(t, err)
	require.NoError(t, f.pipeline.MarkFailed(context.Background(), msg.ID))
	broadcastsBefore := f.broadcaster.count()

	got, err := f.pipeline.MarkRead(context.Background(), msg.ID, 7)
	require.NoError(t, err)
	assert.False(t, got.ReadByUser)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, broadcastsBefore, f.broadcaster.count())

	// And the failure is final
	err = f.pipeline.MarkDelivered(context.Background(), msg.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusChange)
}

func TestPipeline_ReadMessageCannotFail(t *testing.T) {
	f := newPipelineFixture(t)

	msg, err := f.pipeline.Submit(context.Background(), &SubmitRequest{
		ConversationID: f.conv.ID,
		Sender:         CustomerSender(f.conv.CustomerID),
		Content:        "seen already",
	})
	require.NoError(t, err)

	_, err = f.pipeline.MarkRead(context.Background(), msg.ID, 7)
	require.NoError(t, err)

	err = f.pipeline.MarkFailed(context.Background(), msg.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusChange)
}

func TestPipeline_SubmitCommentFanOut(t *testing.T) {
	f := newPipelineFixture(t)
	f.repo.managers = []int64{20, 21}
	f.repo.userNames[9] = "Grace"
	f.repo.usernames["ada"] = 7
	f.repo.usernames["grace"] = 9

	comment, err := f.pipeline.SubmitComment(context.Background(), &CommentRequest{
		ConversationID: f.conv.ID,
		AuthorID:       9,
		Content:        "escalating this, @ada please take a look (cc @grace)",
		Priority:       CommentHigh,
		NotifyManagers: true,
	})
	require.NoError(t, err)
	assert.Equal(t, CommentHigh, comment.Priority)
	assert.True(t, comment.NotifyAssigned)

	conv, _ := f.repo.GetConversation(context.Background(), f.conv.ID)
	assert.Equal(t, 1, conv.CommentCount)

	// Assigned user plus both managers, author never alerted
	assert.ElementsMatch(t, []int64{7, 20, 21}, f.notifier.commentAlerts)

	// @ada resolves to the assigned user; @grace is the author and is skipped
	assert.Equal(t, []int64{7}, f.notifier.mentionAlerts)
}

func TestPipeline_SubmitCommentManagerDedup(t *testing.T) {
	f := newPipelineFixture(t)
	// The assigned user is also a manager; they get one alert, not two
	f.repo.managers = []int64{7, 20}
	f.repo.userNames[9] = "Grace"

	_, err := f.pipeline.SubmitComment(context.Background(), &CommentRequest{
		ConversationID: f.conv.ID,
		AuthorID:       9,
		Content:        "heads up team",
		NotifyManagers: true,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{7, 20}, f.notifier.commentAlerts)
}

func TestPipeline_SubmitCommentDefaultsPriority(t *testing.T) {
	f := newPipelineFixture(t)

	comment, err := f.pipeline.SubmitComment(context.Background(), &CommentRequest{
		ConversationID: f.conv.ID,
		AuthorID:       7,
		Content:        "just a note",
	})
	require.NoError(t, err)
	assert.Equal(t, CommentNormal, comment.Priority)

	// Author is the assigned user, so nobody is alerted
	assert.Empty(t, f.notifier.commentAlerts)
}

func TestPipeline_SubmitEmptyComment(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.pipeline.SubmitComment(context.Background(), &CommentRequest{
		ConversationID: f.conv.ID,
		AuthorID:       7,
		Content:        "   ",
	})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
