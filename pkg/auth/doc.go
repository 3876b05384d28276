// Package auth provides API token authentication.
//
// Tokens have the form ga4a_<base64url(32 random bytes)>. Only the SHA-256
// hash is stored, next to a short display prefix:
//
//	manager := auth.NewTokenManager(userStore, nil)
//	plaintext, token, err := manager.CreateToken(ctx, user.ID, 90*24*time.Hour)
//	// show plaintext to the user once
//
//	authCtx, err := manager.Authenticate(ctx, plaintext)
//	if errors.Is(err, auth.ErrInvalidToken) {
//		// 401
//	}
//
// The resulting AuthContext carries the acting user and answers the
// capability questions handlers ask:
//
//	authCtx.HasSystemRole(roles.SystemAdmin)
//	authCtx.CanAdminister(grant.ClientID)
package auth
