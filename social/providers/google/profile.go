package google

import "github.com/goliatone/go-uas/social"

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	Locale        string `json:"locale"`
}

func mapProfile(info *userInfo) *social.Profile {
	return &social.Profile{
		ProviderUserID: info.Sub,
		Provider:       Name,
		Email:          info.Email,
		EmailVerified:  info.EmailVerified,
		Name:           info.Name,
		AvatarURL:      info.Picture,
		Raw: map[string]any{
			"sub":         info.Sub,
			"given_name":  info.GivenName,
			"family_name": info.FamilyName,
			"locale":      info.Locale,
		},
	}
}
