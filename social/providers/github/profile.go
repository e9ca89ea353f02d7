package github

import (
	"strconv"

	"github.com/goliatone/go-uas/social"
)

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
	Company   string `json:"company"`
	Location  string `json:"location"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func mapProfile(user *githubUser, email string, emailVerified bool) *social.Profile {
	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &social.Profile{
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Provider:       Name,
		Email:          email,
		EmailVerified:  emailVerified,
		Name:           name,
		Username:       user.Login,
		AvatarURL:      user.AvatarURL,
		Raw: map[string]any{
			"login":    user.Login,
			"html_url": user.HTMLURL,
			"company":  user.Company,
			"location": user.Location,
		},
	}
}
