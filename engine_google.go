package authcore

import (
	"context"
	"errors"

	"github.com/deusexmachina/authcore/account"
	"github.com/deusexmachina/authcore/jwt"
	"github.com/deusexmachina/authcore/oauth"
)

// ClaimProviderID carries the external subject on tokens minted by
// GoogleLogin.
const ClaimProviderID = "provider_id"

// GoogleLogin signs in with a Google ID token or authorization code. An
// existing account with the same email gets Google linked and its email
// marked verified; otherwise a Google account is created.
func (e *Engine) GoogleLogin(ctx context.Context, req GoogleLoginRequest) (*AuthResponse, error) {
	if e.google == nil {
		e.logger.Warn().Msg("google login attempted but no verifier is configured")
		return nil, ErrInvalidExternalToken
	}

	identity, err := e.google.Verify(ctx, oauth.Credential{
		IDToken:     req.IDToken,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		e.metricInc(MetricGoogleLoginFailure)
		if errors.Is(err, oauth.ErrInvalidToken) {
			e.emitAudit(ctx, auditEventGoogleLogin, false, auditFields{}, ErrInvalidExternalToken)
			return nil, ErrInvalidExternalToken
		}
		return nil, internalError(err)
	}

	email := account.NormalizeEmail(identity.Email)
	user, err := e.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, account.ErrNotFound):
		user, err = e.createGoogleUser(ctx, email, identity)
	case err == nil:
		user, err = e.linkGoogle(ctx, user)
	}
	if err != nil {
		return nil, internalError(err)
	}

	extra, err := jwt.NewClaims(map[string]jwt.ClaimValue{
		ClaimProviderID: jwt.String(identity.Subject),
	})
	if err != nil {
		return nil, internalError(err)
	}

	resp, err := e.startSession(ctx, user, sessionOptions{
		ttl:           e.config.Session.DefaultTTL,
		extra:         extra,
		newDeviceScan: true,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricGoogleLoginSuccess)
	e.emitAudit(ctx, auditEventGoogleLogin, true, auditFields{userID: user.ID}, nil)

	return resp, nil
}

func (e *Engine) createGoogleUser(ctx context.Context, email string, identity oauth.Identity) (*account.User, error) {
	name := identity.DisplayName
	if name == "" {
		name = defaultDisplayName(email)
	}
	user, err := e.users.Save(ctx, account.User{
		Email:           email,
		DisplayName:     name,
		Provider:        account.ProviderGoogle,
		EmailVerified:   true,
		LinkedProviders: []string{account.ProviderGoogle.LinkName()},
	})
	if errors.Is(err, account.ErrEmailTaken) {
		// Lost a race with a concurrent sign-up; link the winner instead.
		existing, ferr := e.users.FindByEmail(ctx, email)
		if ferr != nil {
			return nil, ferr
		}
		return e.linkGoogle(ctx, existing)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("user_id", user.ID).Msg("google account created")
	return user, nil
}

func (e *Engine) linkGoogle(ctx context.Context, user *account.User) (*account.User, error) {
	link := account.ProviderGoogle.LinkName()
	if user.HasLinkedProvider(link) {
		return user, nil
	}

	verified := true
	linked := user.WithLinkedProvider(link).LinkedProviders
	updated, err := e.users.Update(ctx, user.ID, account.Update{
		EmailVerified:   &verified,
		LinkedProviders: linked,
	})
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventProviderLinked, true, auditFields{
		userID:   user.ID,
		metadata: func() map[string]string { return map[string]string{"provider": link} },
	}, nil)
	return updated, nil
}
