package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	// ErrSelfMessage rejects a message whose sender and recipient are the same user.
	ErrSelfMessage = errors.New("sender and recipient must differ")
	// ErrEmptyContent rejects a message whose content is blank after trimming.
	ErrEmptyContent = errors.New("message content is empty")
)

// ListOptions narrows ListForUser. The zero value means "everything the
// user participates in".
type ListOptions struct {
	ProductID int64 // 0 = all products
	Limit     uint64
}

// MessageRepository is the durable message log, the single source of truth
// for conversations.
type MessageRepository interface {
	CreateMessage(ctx context.Context, productID, senderID, recipientID int64, content string) (models.Message, error)
	ListForPair(ctx context.Context, userID, otherID, productID int64) ([]models.Message, error)
	ListForUser(ctx context.Context, userID int64, opts ListOptions) ([]models.Message, error)
	MarkRead(ctx context.Context, userID, otherID, productID int64) (int64, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage validates and stores a message. The id and created_at are
// server-assigned; created_at defines the total order within a conversation,
// ties broken by id.
func (r *MessageRepo) CreateMessage(ctx context.Context, productID, senderID, recipientID int64, content string) (models.Message, error) {
	if senderID == recipientID {
		return models.Message{}, ErrSelfMessage
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}

	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (product_id, sender_id, recipient_id, content)
        VALUES ($1, $2, $3, $4)
        RETURNING id, product_id, sender_id, recipient_id, content, created_at, read_at`,
		productID, senderID, recipientID, content).
		Scan(&msg.ID, &msg.ProductID, &msg.SenderID, &msg.RecipientID, &msg.Content, &msg.CreatedAt, &msg.ReadAt)
	return msg, err
}

// ListForPair returns every message exchanged between the two users about a
// product, oldest first.
func (r *MessageRepo) ListForPair(ctx context.Context, userID, otherID, productID int64) ([]models.Message, error) {
	query := `SELECT id, product_id, sender_id, recipient_id, content, created_at, read_at
        FROM messages
        WHERE product_id=$1
        AND ((sender_id=$2 AND recipient_id=$3) OR (sender_id=$3 AND recipient_id=$2))
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, productID, userID, otherID)
	return msgs, err
}

// ListForUser returns all messages the user participates in, for conversation
// aggregation. The filter set varies per caller, so the query is built
// dynamically.
func (r *MessageRepo) ListForUser(ctx context.Context, userID int64, opts ListOptions) ([]models.Message, error) {
	builder := sq.Select("id", "product_id", "sender_id", "recipient_id", "content", "created_at", "read_at").
		From("messages").
		Where(sq.Or{sq.Eq{"sender_id": userID}, sq.Eq{"recipient_id": userID}}).
		OrderBy("created_at ASC", "id ASC")

	if opts.ProductID != 0 {
		builder = builder.Where(sq.Eq{"product_id": opts.ProductID})
	}
	if opts.Limit > 0 {
		builder = builder.Limit(opts.Limit)
	}

	query, args, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var msgs []models.Message
	err = r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// MarkRead stamps every unread message the other user sent within the product
// scope. The read_at IS NULL predicate makes the transition one-way and the
// call idempotent: a second invocation, or a concurrent one from another
// session, updates zero rows and is not an error.
func (r *MessageRepo) MarkRead(ctx context.Context, userID, otherID, productID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_at = NOW()
        WHERE recipient_id=$1 AND sender_id=$2 AND product_id=$3 AND read_at IS NULL`,
		userID, otherID, productID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread returns the user's unread total across all conversations.
func (r *MessageRepo) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE recipient_id=$1 AND read_at IS NULL`, userID)
	return count, err
}
