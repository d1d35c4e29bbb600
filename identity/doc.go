// Package identity exchanges OAuth2 authorization codes with external
// identity providers and returns the verified profile of the signed-in user.
//
// Google and Microsoft are supported through golang.org/x/oauth2. Both are
// queried through their OpenID Connect userinfo endpoints, so the account
// engine only ever sees a Profile.
package identity
