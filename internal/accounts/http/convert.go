package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/idx"
)

// pathID reads the {id} path value. Anything that is not a ULID cannot name
// a stored row, so it is answered with notFound without touching the store.
func pathID(w http.ResponseWriter, r *http.Request, notFound error) (string, bool) {
	id, err := idx.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, notFound)
		return "", false
	}
	return id.String(), true
}

func toAccount(a domain.Account) accountsdk.Account {
	return accountsdk.Account{
		ID:            a.ID,
		Email:         a.Email,
		Username:      a.Username,
		DisplayName:   a.DisplayName,
		Role:          string(a.Role),
		Status:        string(a.Status),
		EmailVerified: a.EmailVerified,
		MFAEnabled:    a.MFAEnabled(),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAccountWithToken(awt service.AccountWithToken) accountsdk.AccountWithToken {
	return accountsdk.AccountWithToken{
		Account: toAccount(awt.Account),
		Token: accountsdk.Token{
			Access:           awt.Token.Access,
			Refresh:          awt.Token.Refresh,
			ExpiredAt:        awt.Token.ExpiredAt,
			RefreshableUntil: awt.Token.RefreshableUntil,
		},
	}
}

func toSessionList(sessions []domain.Session, currentID string) accountsdk.SessionList {
	out := accountsdk.SessionList{Sessions: make([]accountsdk.SessionInfo, 0, len(sessions))}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, accountsdk.SessionInfo{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IP:        s.IP,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == currentID,
		})
	}
	return out
}
