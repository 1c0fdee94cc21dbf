package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// StoreHistory feeds previously confirmed contacts back into candidate
// generation so a working address is reused before fresh guessing.
type StoreHistory struct {
	Store store.Store
}

// VerifiedEmails returns the organization's addresses currently marked Valid.
func (h *StoreHistory) VerifiedEmails(ctx context.Context, organization string) ([]string, error) {
	candidates, err := h.Store.ListAlternates(ctx, organization, nil)
	if err != nil {
		return nil, err
	}

	var emails []string
	for _, cand := range candidates {
		rec, err := h.Store.GetStatus(ctx, cand.Email)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if rec.Status == model.StatusValid {
			emails = append(emails, cand.Email)
		}
	}
	return emails, nil
}
