package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/directory"
	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
)

func setupRouter(handler *MessageHandler, userID int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.GET("/conversations/unread-count", handler.UnreadCount)
	r.GET("/threads/:product_id/:counterparty_id/messages", handler.GetThreadMessages)
	r.POST("/threads/:product_id/:counterparty_id/messages", handler.PostThreadMessage)
	r.POST("/threads/:product_id/:counterparty_id/read", handler.MarkThreadRead)
	return r
}

func newHandler(repo *mocks.MessageRepositoryMock, lister *mocks.ConversationListerMock, users *mocks.IdentityResolverMock, broker *realtime.Broker) *MessageHandler {
	return NewMessageHandler(repo, lister, users, broker, nil, nil)
}

func TestListConversationsSuccess(t *testing.T) {
	lister := new(mocks.ConversationListerMock)
	handler := newHandler(new(mocks.MessageRepositoryMock), lister, new(mocks.IdentityResolverMock), realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	lister.On("List", mock.Anything, int64(1)).Return([]models.ConversationSummary{
		{ProductID: 42, CounterpartyID: 2, CounterpartyName: "bob", HasUnread: true},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
		Degraded      bool                         `json:"degraded"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	require.False(t, resp.Degraded)
	lister.AssertExpectations(t)
}

func TestListConversationsDegradesOnStoreFailure(t *testing.T) {
	lister := new(mocks.ConversationListerMock)
	handler := newHandler(new(mocks.MessageRepositoryMock), lister, new(mocks.IdentityResolverMock), realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	lister.On("List", mock.Anything, int64(1)).Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
		Degraded      bool                         `json:"degraded"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Empty(t, resp.Conversations)
	require.True(t, resp.Degraded)
}

func TestUnreadCount(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := newHandler(repo, new(mocks.ConversationListerMock), new(mocks.IdentityResolverMock), realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	repo.On("CountUnread", mock.Anything, int64(1)).Return(3, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/unread-count", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"unread":3}`, rec.Body.String())
	repo.AssertExpectations(t)
}

func TestUnreadCountStoreError(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := newHandler(repo, new(mocks.ConversationListerMock), new(mocks.IdentityResolverMock), realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	repo.On("CountUnread", mock.Anything, int64(1)).Return(0, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/unread-count", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetThreadMessagesMarksReadAndDecorates(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	users := new(mocks.IdentityResolverMock)
	handler := newHandler(repo, new(mocks.ConversationListerMock), users, realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	msgs := []models.Message{
		{ID: 1, ProductID: 42, SenderID: 2, RecipientID: 1, Content: "hi", CreatedAt: time.Now()},
	}
	repo.On("ListForPair", mock.Anything, int64(1), int64(2), int64(42)).Return(msgs, nil).Once()
	repo.On("MarkRead", mock.Anything, int64(1), int64(2), int64(42)).Return(int64(1), nil).Once()
	users.On("BulkUsers", mock.Anything, []int64{1, 2}).
		Return(map[int64]directory.UserInfo{2: {ID: 2, Name: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/threads/42/2/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []struct {
			ID         int64  `json:"id"`
			SenderName string `json:"sender_name"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "bob", resp.Messages[0].SenderName)
	repo.AssertExpectations(t)
}

func TestGetThreadMessagesResolverFailureUsesPlaceholder(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	users := new(mocks.IdentityResolverMock)
	handler := newHandler(repo, new(mocks.ConversationListerMock), users, realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	msgs := []models.Message{{ID: 1, ProductID: 42, SenderID: 2, RecipientID: 1, Content: "hi", CreatedAt: time.Now()}}
	repo.On("ListForPair", mock.Anything, int64(1), int64(2), int64(42)).Return(msgs, nil).Once()
	repo.On("MarkRead", mock.Anything, int64(1), int64(2), int64(42)).Return(int64(0), nil).Once()
	users.On("BulkUsers", mock.Anything, []int64{1, 2}).
		Return((map[int64]directory.UserInfo)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/threads/42/2/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sender_name":"Unknown"`)
}

func TestGetThreadMessagesInvalidIDs(t *testing.T) {
	handler := newHandler(new(mocks.MessageRepositoryMock), new(mocks.ConversationListerMock), new(mocks.IdentityResolverMock), realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	for _, path := range []string{"/threads/abc/2/messages", "/threads/42/abc/messages"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestPostThreadMessageSuccessBroadcastsAfterPersist(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	users := new(mocks.IdentityResolverMock)
	broker := realtime.NewBroker(4)
	defer broker.Close()
	handler := newHandler(repo, new(mocks.ConversationListerMock), users, broker)
	router := setupRouter(handler, 1)

	var delivered atomic.Int64
	sub := broker.SubscribeThread(2, 1, 42, func(ev realtime.Event) {
		if ev.Type == realtime.EventMessageCreated {
			delivered.Add(1)
		}
	})
	defer sub.Unsubscribe()

	stored := models.Message{ID: 7, ProductID: 42, SenderID: 1, RecipientID: 2, Content: "hi", CreatedAt: time.Now()}
	repo.On("CreateMessage", mock.Anything, int64(42), int64(1), int64(2), "hi").Return(stored, nil).Once()
	users.On("BulkUsers", mock.Anything, []int64{1}).
		Return(map[int64]directory.UserInfo{1: {ID: 1, Name: "alice"}}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/42/2/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, 5*time.Millisecond)
	repo.AssertExpectations(t)
}

func TestPostThreadMessageSelfSendRejected(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	broker := realtime.NewBroker(4)
	defer broker.Close()
	handler := newHandler(repo, new(mocks.ConversationListerMock), new(mocks.IdentityResolverMock), broker)
	router := setupRouter(handler, 1)

	repo.On("CreateMessage", mock.Anything, int64(42), int64(1), int64(1), "hi").
		Return(models.Message{}, repositories.ErrSelfMessage).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/42/1/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot message yourself")
}

func TestPostThreadMessageBlankContentRejected(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := newHandler(repo, new(mocks.ConversationListerMock), new(mocks.IdentityResolverMock), realtime.NewBroker(4))
	router := setupRouter(handler, 1)

	repo.On("CreateMessage", mock.Anything, int64(42), int64(1), int64(2), "   ").
		Return(models.Message{}, repositories.ErrEmptyContent).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/42/2/messages", bytes.NewBufferString(`{"content":"   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostThreadMessageStoreFailureFiresNoEvent(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	broker := realtime.NewBroker(4)
	defer broker.Close()
	handler := newHandler(repo, new(mocks.ConversationListerMock), new(mocks.IdentityResolverMock), broker)
	router := setupRouter(handler, 1)

	var delivered atomic.Int64
	sub := broker.SubscribeUser(2, func(realtime.Event) { delivered.Add(1) })
	defer sub.Unsubscribe()

	repo.On("CreateMessage", mock.Anything, int64(42), int64(1), int64(2), "hi").
		Return(models.Message{}, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/42/2/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, delivered.Load())
}

func TestMarkThreadReadIdempotent(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	broker := realtime.NewBroker(4)
	defer broker.Close()
	handler := newHandler(repo, new(mocks.ConversationListerMock), new(mocks.IdentityResolverMock), broker)
	router := setupRouter(handler, 1)

	repo.On("MarkRead", mock.Anything, int64(1), int64(2), int64(42)).Return(int64(3), nil).Once()
	repo.On("MarkRead", mock.Anything, int64(1), int64(2), int64(42)).Return(int64(0), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/42/2/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"updated":3}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/threads/42/2/read", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"updated":0}`, rec.Body.String())
	repo.AssertExpectations(t)
}
