package services

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"cohortkit/models"
	e "cohortkit/models/dtos/errors"

	"github.com/labstack/echo"
)

var ErrMissingAuthorization = errors.New("missing 'Authorization' HTTP header")

type (
	AuthzService struct {
		isEnabled bool
		token     string
	}
)

func NewAuthzService(cfg *models.Config) *AuthzService {
	return &AuthzService{
		isEnabled: cfg.Server.AuthzEnabled,
		token:     cfg.Server.Token,
	}
}

func (a *AuthzService) IsEnabled() bool {
	return a.isEnabled
}

func (a *AuthzService) FetchAuthorizationHeader(headers http.Header) (string, error) {
	// return error if the Authorization header is missing
	authnToken := headers.Get("Authorization")
	if authnToken == "" {
		return "", ErrMissingAuthorization
	}

	// remove "Bearer " if need be, assuming the header is properly formatted
	if strings.HasPrefix(authnToken, "Bearer ") {
		authnToken = strings.TrimSpace(strings.TrimPrefix(authnToken, "Bearer "))
	}
	return authnToken, nil
}

func (a *AuthzService) EnsureTokenPermitted(authnToken string) error {
	if a.token == "" || subtle.ConstantTimeCompare([]byte(authnToken), []byte(a.token)) != 1 {
		return errors.New("access denied")
	}
	return nil
}

func (a *AuthzService) MandateAuthorizationTokensMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.IsEnabled() {
			// check request headers
			authnToken, missingHeaderErr := a.FetchAuthorizationHeader(c.Request().Header)
			if missingHeaderErr != nil {
				return echo.NewHTTPError(http.StatusForbidden, missingHeaderErr.Error())
			}

			// check the token
			if accessError := a.EnsureTokenPermitted(authnToken); accessError != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, e.CreateSimpleUnauthorized(accessError.Error()))
			}
		}

		// access granted!
		return next(c)
	}
}
