// Package token issues and checks console session tokens.
//
// Tokens are random, base64-URL encoded and handed to the client once. The
// gateway only keeps an HMAC-SHA256 hash keyed with the server secret:
//
//	tok, _ := token.Generate()
//	hash := token.Hash(tok, secret)  // stored
//	token.Validate(provided, secret, hash)
//
// Validation uses constant-time comparison.
package token
