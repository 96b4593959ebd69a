package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/directory"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, productID, senderID, recipientID int64, content string) (models.Message, error) {
	args := m.Called(ctx, productID, senderID, recipientID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListForPair(ctx context.Context, userID, otherID, productID int64) ([]models.Message, error) {
	args := m.Called(ctx, userID, otherID, productID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListForUser(ctx context.Context, userID int64, opts repositories.ListOptions) ([]models.Message, error) {
	args := m.Called(ctx, userID, opts)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, userID, otherID, productID int64) (int64, error) {
	args := m.Called(ctx, userID, otherID, productID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type ConversationListerMock struct {
	mock.Mock
}

func (m *ConversationListerMock) List(ctx context.Context, viewerID int64) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, viewerID)
	var summaries []models.ConversationSummary
	if val := args.Get(0); val != nil {
		summaries = val.([]models.ConversationSummary)
	}
	return summaries, args.Error(1)
}

type IdentityResolverMock struct {
	mock.Mock
}

func (m *IdentityResolverMock) BulkUsers(ctx context.Context, ids []int64) (map[int64]directory.UserInfo, error) {
	args := m.Called(ctx, ids)
	var users map[int64]directory.UserInfo
	if val := args.Get(0); val != nil {
		users = val.(map[int64]directory.UserInfo)
	}
	return users, args.Error(1)
}

type ProductDirectoryMock struct {
	mock.Mock
}

func (m *ProductDirectoryMock) IsSeller(ctx context.Context, userID, productID int64) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ directory.IdentityResolver = (*IdentityResolverMock)(nil)
var _ directory.ProductDirectory = (*ProductDirectoryMock)(nil)
