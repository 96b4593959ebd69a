package conversations

import (
	"context"
	"log"

	"messaging-service/internal/directory"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// PlaceholderName is substituted when the identity resolver cannot supply a
// display name. Listing and delivery never stall on identity data.
const PlaceholderName = "Unknown"

// Service produces decorated conversation listings for a viewer.
type Service struct {
	repo    repositories.MessageRepository
	users   directory.IdentityResolver
	catalog directory.ProductDirectory
}

// NewService constructs a Service.
func NewService(repo repositories.MessageRepository, users directory.IdentityResolver, catalog directory.ProductDirectory) *Service {
	return &Service{repo: repo, users: users, catalog: catalog}
}

// List returns the viewer's conversations, most-recently-active first, each
// decorated with the counterparty's identity and the viewer's role.
func (s *Service) List(ctx context.Context, viewerID int64) ([]models.ConversationSummary, error) {
	msgs, err := s.repo.ListForUser(ctx, viewerID, repositories.ListOptions{})
	if err != nil {
		return nil, err
	}

	summaries := Aggregate(msgs, viewerID)
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]int64, 0, len(summaries))
	seen := map[int64]struct{}{}
	for _, summary := range summaries {
		if _, ok := seen[summary.CounterpartyID]; !ok {
			seen[summary.CounterpartyID] = struct{}{}
			ids = append(ids, summary.CounterpartyID)
		}
	}

	users, err := s.users.BulkUsers(ctx, ids)
	if err != nil {
		log.Printf("identity resolution failed, using placeholders: %v", err)
		users = nil
	}

	for i := range summaries {
		summaries[i].CounterpartyName = NameFor(users, summaries[i].CounterpartyID)
		if user, ok := users[summaries[i].CounterpartyID]; ok {
			summaries[i].Verified = user.Verified
		}

		isSeller, err := s.catalog.IsSeller(ctx, viewerID, summaries[i].ProductID)
		if err != nil {
			// Role decoration is cosmetic; a catalog outage defaults to buyer.
			log.Printf("seller lookup failed for product %d: %v", summaries[i].ProductID, err)
			isSeller = false
		}
		summaries[i].IsBuyer = !isSeller
	}

	return summaries, nil
}

// NameFor picks a display name from resolved identities, falling back to the
// placeholder.
func NameFor(users map[int64]directory.UserInfo, id int64) string {
	if user, ok := users[id]; ok && user.Name != "" {
		return user.Name
	}
	return PlaceholderName
}
