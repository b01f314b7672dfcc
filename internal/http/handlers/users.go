package handlers

import (
	"errors"
	"net/http"

	"server/internal/domain"
)

type userView struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Credits int    `json:"credits"`
	Tier    string `json:"tier"`
}

func viewOfUser(u domain.User) userView {
	tier := u.Tier
	if tier == "" {
		tier = domain.UserTierFree
	}
	return userView{ID: u.ID, Name: u.Name, Picture: u.Picture, Credits: u.Credits, Tier: string(tier)}
}

// Credits returns the caller's balance. Accounts that never initialized
// their credits read as the default grant.
func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.GetByID(r.Context(), a.currentUserID(r))
	if errors.Is(err, domain.ErrNotFound) {
		a.json(w, http.StatusOK, userView{ID: a.currentUserID(r), Credits: domain.DefaultCredits, Tier: string(domain.UserTierFree)})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOfUser(*user))
}

// InitCredits grants the starting balance. Idempotent: repeat calls return
// the current balance without topping up.
func (a *App) InitCredits(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.InitCredits(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOfUser(*user))
}
